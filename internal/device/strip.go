package device

import (
	"context"

	"github.com/muurk/kasalink/internal/protocol"
	"github.com/muurk/kasalink/internal/transport"
)

// Strip is a multi-outlet power strip (HS300/KP303 family). Each outlet
// is addressed by the child ID the strip assigns it.
type Strip struct {
	Device
}

// NewStrip wraps an endpoint in the strip facade
func NewStrip(q Querier, ep transport.Endpoint) *Strip {
	return &Strip{Device: Device{q: q, endpoint: ep}}
}

// Children lists the strip's outlets and their states
func (s *Strip) Children(ctx context.Context) ([]protocol.ChildInfo, error) {
	info, err := s.SysInfo(ctx)
	if err != nil {
		return nil, err
	}
	return info.Children, nil
}

// SetChildRelay switches one outlet on or off without touching its
// siblings
func (s *Strip) SetChildRelay(ctx context.Context, childID string, on bool) error {
	req := protocol.NewRequest(protocol.ModuleSystem, "set_relay_state",
		map[string]int{"state": boolToState(on)}).ForChildren(childID)
	_, err := s.q.Submit(ctx, s.endpoint, req)
	return err
}

// SetChildAlias renames one outlet
func (s *Strip) SetChildAlias(ctx context.Context, childID string, alias string) error {
	req := protocol.NewRequest(protocol.ModuleSystem, "set_dev_alias",
		map[string]string{"alias": alias}).ForChildren(childID)
	_, err := s.q.Submit(ctx, s.endpoint, req)
	return err
}

// SetAllRelays switches every outlet at once
func (s *Strip) SetAllRelays(ctx context.Context, on bool) error {
	children, err := s.Children(ctx)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(children))
	for _, c := range children {
		ids = append(ids, c.ID)
	}
	req := protocol.NewRequest(protocol.ModuleSystem, "set_relay_state",
		map[string]int{"state": boolToState(on)}).ForChildren(ids...)
	_, err = s.q.Submit(ctx, s.endpoint, req)
	return err
}
