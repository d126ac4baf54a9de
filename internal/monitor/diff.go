package monitor

import "github.com/muurk/kasalink/internal/protocol"

// snapshotFields projects a decoded status onto the watched-field set.
// Absent fields project to nil so presence changes also diff.
func snapshotFields(info *protocol.SysInfo, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		out[f] = extractField(info, f)
	}
	return out
}

// extractField resolves one watched-field name against a status
// payload. Only scalar projections are supported; a field that does
// not apply to this device family yields nil.
func extractField(info *protocol.SysInfo, field string) any {
	if info == nil {
		return nil
	}
	switch field {
	case "relay_state":
		if info.RelayState != nil {
			return *info.RelayState
		}
	case "on_time":
		return info.OnTime
	case "alias":
		return info.Alias
	case "brightness":
		if info.Brightness != nil {
			return *info.Brightness
		}
	case "led_off":
		return info.LEDOff
	case "rssi":
		return info.RSSI
	case "light_state.on_off":
		if info.LightState != nil {
			return info.LightState.OnOff
		}
	case "light_state.brightness":
		if info.LightState != nil {
			return info.LightState.Brightness
		}
	}
	return nil
}
