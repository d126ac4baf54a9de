package device

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/muurk/kasalink/internal/protocol"
	"github.com/muurk/kasalink/internal/registry"
	"github.com/muurk/kasalink/internal/transport"
)

// fakeQuerier records submitted requests and replies from a canned
// member payload per module.member key
type fakeQuerier struct {
	replies  map[string]string
	requests []protocol.Request
	lastWire string
}

func newFakeQuerier() *fakeQuerier {
	return &fakeQuerier{replies: make(map[string]string)}
}

func (f *fakeQuerier) reply(module, member, payload string) {
	f.replies[module+"."+member] = payload
}

func (f *fakeQuerier) Submit(_ context.Context, _ transport.Endpoint, req protocol.Request) (json.RawMessage, error) {
	f.requests = append(f.requests, req)
	wire, err := req.Encode()
	if err != nil {
		return nil, err
	}
	f.lastWire = string(wire)

	payload, ok := f.replies[req.Module+"."+req.Member]
	if !ok {
		return nil, protocol.NewProtocolError(-1, "module not support")
	}
	return json.RawMessage(payload), nil
}

var testEndpoint = transport.NewEndpoint("192.168.1.40", 9999, transport.Stream)

func TestPlugSetRelayState(t *testing.T) {
	q := newFakeQuerier()
	q.reply(protocol.ModuleSystem, "set_relay_state", `{"err_code":0}`)

	p := NewPlug(q, testEndpoint)
	if err := p.SetRelayState(context.Background(), true); err != nil {
		t.Fatalf("SetRelayState: %v", err)
	}
	want := `{"system":{"set_relay_state":{"state":1}}}`
	if q.lastWire != want {
		t.Errorf("wire = %s, want %s", q.lastWire, want)
	}

	if err := p.SetRelayState(context.Background(), false); err != nil {
		t.Fatalf("SetRelayState: %v", err)
	}
	want = `{"system":{"set_relay_state":{"state":0}}}`
	if q.lastWire != want {
		t.Errorf("wire = %s, want %s", q.lastWire, want)
	}
}

func TestPlugIsOn(t *testing.T) {
	q := newFakeQuerier()
	q.reply(protocol.ModuleSystem, "get_sysinfo",
		`{"alias":"kettle","mic_type":"IOT.SMARTPLUGSWITCH","relay_state":1,"err_code":0}`)

	on, err := NewPlug(q, testEndpoint).IsOn(context.Background())
	if err != nil {
		t.Fatalf("IsOn: %v", err)
	}
	if !on {
		t.Error("IsOn = false, want true")
	}
}

func TestDeviceIdentify(t *testing.T) {
	tests := []struct {
		name    string
		sysinfo string
		want    registry.Variant
		wantErr bool
	}{
		{
			name:    "plug",
			sysinfo: `{"mic_type":"IOT.SMARTPLUGSWITCH","relay_state":0,"err_code":0}`,
			want:    registry.VariantPlug,
		},
		{
			name:    "unknown device fails when a variant is required",
			sysinfo: `{"model":"MYSTERY9000","err_code":0}`,
			want:    registry.VariantUnknown,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newFakeQuerier()
			q.reply(protocol.ModuleSystem, "get_sysinfo", tt.sysinfo)

			variant, _, err := New(q, testEndpoint).Identify(context.Background())
			if variant != tt.want {
				t.Errorf("variant = %q, want %q", variant, tt.want)
			}
			if tt.wantErr {
				if !protocol.IsUnsupportedDevice(err) {
					t.Errorf("err = %v, want unsupported-device error", err)
				}
			} else if err != nil {
				t.Errorf("Identify: %v", err)
			}
		})
	}
}

func TestStripChildScoping(t *testing.T) {
	q := newFakeQuerier()
	q.reply(protocol.ModuleSystem, "set_relay_state", `{"err_code":0}`)

	s := NewStrip(q, testEndpoint)
	if err := s.SetChildRelay(context.Background(), "800600A1", true); err != nil {
		t.Fatalf("SetChildRelay: %v", err)
	}
	want := `{"context":{"child_ids":["800600A1"]},"system":{"set_relay_state":{"state":1}}}`
	if q.lastWire != want {
		t.Errorf("wire = %s, want %s", q.lastWire, want)
	}
}

func TestBulbSetHSB(t *testing.T) {
	q := newFakeQuerier()
	q.reply(protocol.ModuleLightingService, "transition_light_state", `{"err_code":0}`)

	b := NewBulb(q, testEndpoint)
	if err := b.SetHSB(context.Background(), 120, 80, 50); err != nil {
		t.Fatalf("SetHSB: %v", err)
	}
	want := `{"smartlife.iot.smartbulb.lightingservice":{"transition_light_state":` +
		`{"on_off":1,"transition_period":0,"ignore_default":1,"brightness":50,"hue":120,"saturation":80,"color_temp":0}}}`
	if q.lastWire != want {
		t.Errorf("wire = %s, want %s", q.lastWire, want)
	}
}

func TestEmeterRealtimeNormalization(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantW   float64
		wantKWH float64
	}{
		{
			name:    "new firmware milli-units",
			payload: `{"voltage_mv":231210,"current_ma":44,"power_mw":10320,"total_wh":1245,"err_code":0}`,
			wantW:   10.32,
			wantKWH: 1.245,
		},
		{
			name:    "old firmware base units",
			payload: `{"voltage":231.21,"current":0.044,"power":10.32,"total":1.245,"err_code":0}`,
			wantW:   10.32,
			wantKWH: 1.245,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newFakeQuerier()
			q.reply(protocol.ModuleEmeter, "get_realtime", tt.payload)

			reading, err := NewPlug(q, testEndpoint).EmeterRealtime(context.Background())
			if err != nil {
				t.Fatalf("EmeterRealtime: %v", err)
			}
			if got := reading.PowerW(); got != tt.wantW {
				t.Errorf("PowerW = %v, want %v", got, tt.wantW)
			}
			if got := reading.TotalKWH(); got != tt.wantKWH {
				t.Errorf("TotalKWH = %v, want %v", got, tt.wantKWH)
			}
		})
	}
}

func TestEmeterDayStats(t *testing.T) {
	q := newFakeQuerier()
	q.reply(protocol.ModuleEmeter, "get_daystat",
		`{"day_list":[{"year":2026,"month":8,"day":23,"energy_wh":412},{"year":2026,"month":8,"day":24,"energy":0.318}],"err_code":0}`)

	days, err := NewPlug(q, testEndpoint).EmeterDayStats(context.Background(), 2026, 8)
	if err != nil {
		t.Fatalf("EmeterDayStats: %v", err)
	}
	want := `{"emeter":{"get_daystat":{"month":8,"year":2026}}}`
	if q.lastWire != want {
		t.Errorf("wire = %s, want %s", q.lastWire, want)
	}
	if len(days) != 2 {
		t.Fatalf("got %d days, want 2", len(days))
	}
	// Both firmware unit styles normalize to kWh
	if got := days[0].KWH(); got != 0.412 {
		t.Errorf("day 23 KWH = %v, want 0.412", got)
	}
	if got := days[1].KWH(); got != 0.318 {
		t.Errorf("day 24 KWH = %v, want 0.318", got)
	}
}

func TestCloudInfo(t *testing.T) {
	q := newFakeQuerier()
	q.reply(protocol.ModuleCloud, "get_info",
		`{"username":"user@example.com","server":"devs.tplinkcloud.com","binded":1,"err_code":0}`)

	info, err := New(q, testEndpoint).CloudInfo(context.Background())
	if err != nil {
		t.Fatalf("CloudInfo: %v", err)
	}
	if !info.Bound() {
		t.Error("Bound = false, want true")
	}
	if info.Server != "devs.tplinkcloud.com" {
		t.Errorf("Server = %q", info.Server)
	}
}

func TestForVariantFactory(t *testing.T) {
	q := newFakeQuerier()
	tests := []struct {
		variant registry.Variant
		want    string
	}{
		{registry.VariantPlug, "*device.Plug"},
		{registry.VariantDimmer, "*device.Dimmer"},
		{registry.VariantStrip, "*device.Strip"},
		{registry.VariantBulb, "*device.Bulb"},
		{registry.VariantCamera, "*device.Camera"},
		{registry.VariantUnknown, "*device.Device"},
	}
	for _, tt := range tests {
		got := fmt.Sprintf("%T", ForVariant(q, testEndpoint, tt.variant))
		if got != tt.want {
			t.Errorf("ForVariant(%q) = %s, want %s", tt.variant, got, tt.want)
		}
	}
}

func TestUnsupportedModuleSurfacesDeviceError(t *testing.T) {
	q := newFakeQuerier() // no replies registered: everything errors
	_, err := NewPlug(q, testEndpoint).EmeterRealtime(context.Background())
	if !protocol.IsDeviceError(err) {
		t.Fatalf("err = %v, want device error", err)
	}
}
