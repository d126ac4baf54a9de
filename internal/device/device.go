package device

import (
	"context"
	"encoding/json"

	"github.com/muurk/kasalink/internal/protocol"
	"github.com/muurk/kasalink/internal/registry"
	"github.com/muurk/kasalink/internal/transport"
)

// Querier submits one command to an endpoint and returns the parsed
// member payload. *queue.Dispatcher implements it; tests substitute
// fakes.
type Querier interface {
	Submit(ctx context.Context, ep transport.Endpoint, req protocol.Request) (json.RawMessage, error)
}

// Device is the facade shared by every Kasa variant: the operations in
// the "system" module that all firmware answers.
type Device struct {
	q        Querier
	endpoint transport.Endpoint
}

// New wraps an endpoint in the generic device facade
func New(q Querier, ep transport.Endpoint) *Device {
	return &Device{q: q, endpoint: ep}
}

// Endpoint returns the device's network endpoint
func (d *Device) Endpoint() transport.Endpoint {
	return d.endpoint
}

// SysInfo queries the device's current status
func (d *Device) SysInfo(ctx context.Context) (*protocol.SysInfo, error) {
	member, err := d.q.Submit(ctx, d.endpoint, protocol.SysInfoRequest())
	if err != nil {
		return nil, err
	}
	return protocol.ParseSysInfo(member)
}

// Identify queries the device and classifies it into a variant tag.
// Devices that classify as unknown yield an UnsupportedDeviceError.
func (d *Device) Identify(ctx context.Context) (registry.Variant, *protocol.SysInfo, error) {
	info, err := d.SysInfo(ctx)
	if err != nil {
		return registry.VariantUnknown, nil, err
	}
	variant := registry.Classify(info)
	if variant == registry.VariantUnknown {
		return variant, info, protocol.NewUnsupportedDeviceError(d.endpoint.Addr(),
			"status payload matches no known device family")
	}
	return variant, info, nil
}

// SetAlias renames the device
func (d *Device) SetAlias(ctx context.Context, alias string) error {
	_, err := d.q.Submit(ctx, d.endpoint,
		protocol.NewRequest(protocol.ModuleSystem, "set_dev_alias", map[string]string{"alias": alias}))
	return err
}

// SetMAC rewrites the device's MAC address
func (d *Device) SetMAC(ctx context.Context, mac string) error {
	_, err := d.q.Submit(ctx, d.endpoint,
		protocol.NewRequest(protocol.ModuleSystem, "set_mac_addr", map[string]string{"mac": mac}))
	return err
}

// SetLocation stores coordinates on the device, used by schedule rules
// for sunrise/sunset times
func (d *Device) SetLocation(ctx context.Context, latitude, longitude float64) error {
	_, err := d.q.Submit(ctx, d.endpoint,
		protocol.NewRequest(protocol.ModuleSystem, "set_dev_location",
			map[string]float64{"latitude": latitude, "longitude": longitude}))
	return err
}

// Reboot restarts the device after delay seconds
func (d *Device) Reboot(ctx context.Context, delaySeconds int) error {
	_, err := d.q.Submit(ctx, d.endpoint,
		protocol.NewRequest(protocol.ModuleSystem, "reboot", map[string]int{"delay": delaySeconds}))
	return err
}

// FactoryReset wipes the device after delay seconds
func (d *Device) FactoryReset(ctx context.Context, delaySeconds int) error {
	_, err := d.q.Submit(ctx, d.endpoint,
		protocol.NewRequest(protocol.ModuleSystem, "reset", map[string]int{"delay": delaySeconds}))
	return err
}

// DeviceTime is the device's local clock reading
type DeviceTime struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"mday"`
	Hour  int `json:"hour"`
	Min   int `json:"min"`
	Sec   int `json:"sec"`
}

// Time reads the device's local clock
func (d *Device) Time(ctx context.Context) (*DeviceTime, error) {
	member, err := d.q.Submit(ctx, d.endpoint,
		protocol.NewRequest(protocol.ModuleTime, "get_time", nil))
	if err != nil {
		return nil, err
	}
	var t DeviceTime
	if err := json.Unmarshal(member, &t); err != nil {
		return nil, protocol.NewDecodeError("time payload is not valid JSON", err)
	}
	return &t, nil
}
