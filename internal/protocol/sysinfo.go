package protocol

import (
	"encoding/json"
	"strings"
)

// SysInfo is the decoded get_sysinfo status payload. Field presence
// varies by device family: plugs report relay_state, bulbs report
// light_state, strips list children, cameras report camera-specific
// fields. Absent fields unmarshal to their zero value, so callers and
// the classifier test presence through the pointer fields.
type SysInfo struct {
	SWVersion  string `json:"sw_ver"`
	HWVersion  string `json:"hw_ver"`
	Model      string `json:"model"`
	DeviceID   string `json:"deviceId"`
	OEMID      string `json:"oemId"`
	HWID       string `json:"hwId"`
	Alias      string `json:"alias"`
	DevName    string `json:"dev_name"`
	MAC        string `json:"mac"`
	MICType    string `json:"mic_type"`
	Type       string `json:"type"`
	Feature    string `json:"feature"`
	RSSI       int    `json:"rssi"`
	ActiveMode string `json:"active_mode"`

	// Plug/switch family
	RelayState *int `json:"relay_state,omitempty"`
	OnTime     int  `json:"on_time"`
	LEDOff     int  `json:"led_off"`

	// Dimmer family
	Brightness *int `json:"brightness,omitempty"`

	// Strip family
	Children []ChildInfo `json:"children,omitempty"`

	// Bulb family
	IsDimmable   *int        `json:"is_dimmable,omitempty"`
	IsColor      *int        `json:"is_color,omitempty"`
	IsVariableCT *int        `json:"is_variable_color_temp,omitempty"`
	LightState   *LightState `json:"light_state,omitempty"`

	// Camera family
	CameraType  string `json:"camera_type,omitempty"`
	Resolution  string `json:"resolution,omitempty"`
	SystemState *int   `json:"system_state,omitempty"`
}

// ChildInfo describes one outlet of a power strip
type ChildInfo struct {
	ID         string `json:"id"`
	State      int    `json:"state"`
	Alias      string `json:"alias"`
	OnTime     int    `json:"on_time"`
	NextAction any    `json:"next_action,omitempty"`
}

// LightState is a bulb's current light output
type LightState struct {
	OnOff      int    `json:"on_off"`
	Mode       string `json:"mode,omitempty"`
	Hue        int    `json:"hue"`
	Saturation int    `json:"saturation"`
	ColorTemp  int    `json:"color_temp"`
	Brightness int    `json:"brightness"`
	// When off, devices report the state to restore under dft_on_state
	DftOnState *LightState `json:"dft_on_state,omitempty"`
}

// DeviceType returns whichever of mic_type or type the firmware
// populated. Older plugs use type, newer ones mic_type.
func (s *SysInfo) DeviceType() string {
	if s.MICType != "" {
		return s.MICType
	}
	return s.Type
}

// HasFeature reports whether the colon-separated feature list contains
// the given flag (e.g. "ENE" for energy metering).
func (s *SysInfo) HasFeature(flag string) bool {
	for _, f := range strings.Split(s.Feature, ":") {
		if strings.EqualFold(strings.TrimSpace(f), flag) {
			return true
		}
	}
	return false
}

// ParseSysInfo decodes a get_sysinfo member payload
func ParseSysInfo(raw json.RawMessage) (*SysInfo, error) {
	var info SysInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, NewDecodeError("sysinfo payload is not valid JSON", err)
	}
	return &info, nil
}
