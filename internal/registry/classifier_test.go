package registry

import (
	"testing"

	"github.com/muurk/kasalink/internal/protocol"
)

func intp(v int) *int { return &v }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		info *protocol.SysInfo
		want Variant
	}{
		{
			name: "nil sysinfo",
			info: nil,
			want: VariantUnknown,
		},
		{
			name: "empty sysinfo",
			info: &protocol.SysInfo{Model: "XX100"},
			want: VariantUnknown,
		},
		{
			name: "plug by relay state",
			info: &protocol.SysInfo{
				Model:      "HS100(UK)",
				MICType:    "IOT.SMARTPLUGSWITCH",
				RelayState: intp(1),
			},
			want: VariantPlug,
		},
		{
			name: "plug by type string only",
			info: &protocol.SysInfo{Type: "IOT.SMARTPLUGSWITCH"},
			want: VariantPlug,
		},
		{
			name: "dimmer beats plug",
			info: &protocol.SysInfo{
				Model:      "HS220(US)",
				MICType:    "IOT.SMARTPLUGSWITCH",
				RelayState: intp(0),
				Brightness: intp(40),
			},
			want: VariantDimmer,
		},
		{
			name: "strip beats plug",
			info: &protocol.SysInfo{
				Model:      "HS300(US)",
				MICType:    "IOT.SMARTPLUGSWITCH",
				RelayState: intp(1),
				Children: []protocol.ChildInfo{
					{ID: "00", State: 1, Alias: "outlet 1"},
					{ID: "01", State: 0, Alias: "outlet 2"},
				},
			},
			want: VariantStrip,
		},
		{
			name: "bulb by light state",
			info: &protocol.SysInfo{
				Model:      "LB130(US)",
				MICType:    "IOT.SMARTBULB",
				LightState: &protocol.LightState{OnOff: 1, Brightness: 80},
			},
			want: VariantBulb,
		},
		{
			name: "camera wins even with shared fields present",
			info: &protocol.SysInfo{
				Model:       "KC120(EU)",
				MICType:     "IOT.IPCAMERA",
				CameraType:  "consumer",
				Resolution:  "1080P",
				SystemState: intp(1),
				// Cameras also report fields that plugs have
				RelayState: intp(0),
			},
			want: VariantCamera,
		},
		{
			name: "camera by type string alone",
			info: &protocol.SysInfo{Type: "IOT.IPCAMERA"},
			want: VariantCamera,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.info); got != tt.want {
				t.Errorf("Classify = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassifyIsPure(t *testing.T) {
	info := &protocol.SysInfo{MICType: "IOT.SMARTPLUGSWITCH", RelayState: intp(1)}
	first := Classify(info)
	for i := 0; i < 10; i++ {
		if got := Classify(info); got != first {
			t.Fatalf("Classify changed answers: %q then %q", first, got)
		}
	}
}

func TestCustomRuleOrder(t *testing.T) {
	// A rule set that tags everything as unknown-first demonstrates
	// that order, not specificity heuristics, decides the match
	c := NewClassifier([]Rule{
		{Name: "anything", Tag: VariantBulb, Match: func(*protocol.SysInfo) bool { return true }},
		{Name: "plug", Tag: VariantPlug, Match: func(info *protocol.SysInfo) bool { return info.RelayState != nil }},
	})
	info := &protocol.SysInfo{RelayState: intp(1)}
	if got := c.Classify(info); got != VariantBulb {
		t.Errorf("Classify = %q, want %q (first rule must win)", got, VariantBulb)
	}
}
