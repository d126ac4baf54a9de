package device

import (
	"context"
	"encoding/json"

	"github.com/muurk/kasalink/internal/protocol"
	"github.com/muurk/kasalink/internal/transport"
)

// Bulb is a smart bulb (LB/KL family). Light control lives in the
// bulb's own lighting service module, not in "system".
type Bulb struct {
	Device
}

// NewBulb wraps an endpoint in the bulb facade
func NewBulb(q Querier, ep transport.Endpoint) *Bulb {
	return &Bulb{Device: Device{q: q, endpoint: ep}}
}

// lightTransition is the parameter set for transition_light_state.
// Pointer fields are omitted when unset so the bulb keeps its current
// value for them.
type lightTransition struct {
	OnOff            int  `json:"on_off"`
	TransitionPeriod int  `json:"transition_period"`
	IgnoreDefault    int  `json:"ignore_default"`
	Brightness       *int `json:"brightness,omitempty"`
	Hue              *int `json:"hue,omitempty"`
	Saturation       *int `json:"saturation,omitempty"`
	ColorTemp        *int `json:"color_temp,omitempty"`
}

func (b *Bulb) transition(ctx context.Context, t lightTransition) error {
	_, err := b.q.Submit(ctx, b.endpoint,
		protocol.NewRequest(protocol.ModuleLightingService, "transition_light_state", t))
	return err
}

// SetPower switches the light on or off
func (b *Bulb) SetPower(ctx context.Context, on bool) error {
	return b.transition(ctx, lightTransition{OnOff: boolToState(on), IgnoreDefault: 1})
}

// SetBrightness sets light output, 1-100, switching the bulb on
func (b *Bulb) SetBrightness(ctx context.Context, percent int) error {
	return b.transition(ctx, lightTransition{
		OnOff: 1, IgnoreDefault: 1, Brightness: &percent,
	})
}

// SetColorTemp sets white color temperature in kelvin, switching the
// bulb on
func (b *Bulb) SetColorTemp(ctx context.Context, kelvin int) error {
	return b.transition(ctx, lightTransition{
		OnOff: 1, IgnoreDefault: 1, ColorTemp: &kelvin,
	})
}

// SetHSB sets hue (0-360), saturation (0-100) and brightness (1-100),
// switching the bulb on. Color temperature is zeroed so the color
// channels take effect.
func (b *Bulb) SetHSB(ctx context.Context, hue, saturation, brightness int) error {
	zero := 0
	return b.transition(ctx, lightTransition{
		OnOff: 1, IgnoreDefault: 1,
		Hue: &hue, Saturation: &saturation, Brightness: &brightness,
		ColorTemp: &zero,
	})
}

// LightState queries the bulb's current light output
func (b *Bulb) LightState(ctx context.Context) (*protocol.LightState, error) {
	member, err := b.q.Submit(ctx, b.endpoint,
		protocol.NewRequest(protocol.ModuleLightingService, "get_light_state", nil))
	if err != nil {
		return nil, err
	}
	var state protocol.LightState
	if err := json.Unmarshal(member, &state); err != nil {
		return nil, protocol.NewDecodeError("light state is not valid JSON", err)
	}
	return &state, nil
}

// Camera is a Kasa camera (KC family). Cameras answer the sysinfo
// query over the stream transport but expose no switching surface
// through this protocol; video and motion settings go through a
// different, authenticated channel.
type Camera struct {
	Device
}

// NewCamera wraps an endpoint in the camera facade
func NewCamera(q Querier, ep transport.Endpoint) *Camera {
	return &Camera{Device: Device{q: q, endpoint: ep}}
}
