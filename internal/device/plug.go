package device

import (
	"context"
	"encoding/json"

	"github.com/muurk/kasalink/internal/protocol"
	"github.com/muurk/kasalink/internal/transport"
)

// Plug is a single-outlet smart plug or wall switch (HS100/HS110/HS200
// family)
type Plug struct {
	Device
}

// NewPlug wraps an endpoint in the plug facade
func NewPlug(q Querier, ep transport.Endpoint) *Plug {
	return &Plug{Device: Device{q: q, endpoint: ep}}
}

func boolToState(on bool) int {
	if on {
		return 1
	}
	return 0
}

// SetRelayState switches the outlet on or off
func (p *Plug) SetRelayState(ctx context.Context, on bool) error {
	_, err := p.q.Submit(ctx, p.endpoint,
		protocol.NewRequest(protocol.ModuleSystem, "set_relay_state",
			map[string]int{"state": boolToState(on)}))
	return err
}

// IsOn queries the current relay state
func (p *Plug) IsOn(ctx context.Context) (bool, error) {
	info, err := p.SysInfo(ctx)
	if err != nil {
		return false, err
	}
	if info.RelayState == nil {
		return false, protocol.NewDecodeError("status payload has no relay_state", nil)
	}
	return *info.RelayState == 1, nil
}

// SetLED controls the status LED on the plug body
func (p *Plug) SetLED(ctx context.Context, on bool) error {
	off := 0
	if !on {
		off = 1
	}
	_, err := p.q.Submit(ctx, p.endpoint,
		protocol.NewRequest(protocol.ModuleSystem, "set_led_off", map[string]int{"off": off}))
	return err
}

// CountdownRule is one delayed switching rule
type CountdownRule struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Enable    int    `json:"enable"`
	Delay     int    `json:"delay"`
	Act       int    `json:"act"`
	Remaining int    `json:"remain,omitempty"`
}

// AddCountdown schedules the relay to switch to on after delay seconds
func (p *Plug) AddCountdown(ctx context.Context, delaySeconds int, on bool) error {
	rule := CountdownRule{Enable: 1, Delay: delaySeconds, Act: boolToState(on), Name: "kasalink countdown"}
	_, err := p.q.Submit(ctx, p.endpoint,
		protocol.NewRequest(protocol.ModuleCountdown, "add_rule", rule))
	return err
}

// Countdowns lists the pending countdown rules
func (p *Plug) Countdowns(ctx context.Context) ([]CountdownRule, error) {
	member, err := p.q.Submit(ctx, p.endpoint,
		protocol.NewRequest(protocol.ModuleCountdown, "get_rules", nil))
	if err != nil {
		return nil, err
	}
	var payload struct {
		RuleList []CountdownRule `json:"rule_list"`
	}
	if err := json.Unmarshal(member, &payload); err != nil {
		return nil, protocol.NewDecodeError("rule list is not valid JSON", err)
	}
	return payload.RuleList, nil
}

// ClearCountdowns deletes all countdown rules
func (p *Plug) ClearCountdowns(ctx context.Context) error {
	_, err := p.q.Submit(ctx, p.endpoint,
		protocol.NewRequest(protocol.ModuleCountdown, "delete_all_rules", nil))
	return err
}

// Dimmer is a wall dimmer (HS220 family): a plug with a brightness
// level
type Dimmer struct {
	Plug
}

// NewDimmer wraps an endpoint in the dimmer facade
func NewDimmer(q Querier, ep transport.Endpoint) *Dimmer {
	return &Dimmer{Plug: Plug{Device: Device{q: q, endpoint: ep}}}
}

// SetBrightness sets the dimmer level, 1-100
func (d *Dimmer) SetBrightness(ctx context.Context, percent int) error {
	_, err := d.q.Submit(ctx, d.endpoint,
		protocol.NewRequest(protocol.ModuleSystem, "set_brightness",
			map[string]int{"brightness": percent}))
	return err
}
