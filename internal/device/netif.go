package device

import (
	"context"
	"encoding/json"

	"github.com/muurk/kasalink/internal/protocol"
)

// AccessPoint is one Wi-Fi network visible to the device
type AccessPoint struct {
	SSID    string `json:"ssid"`
	KeyType int    `json:"key_type"`
	RSSI    int    `json:"rssi,omitempty"`
}

// ScanAP asks the device to scan for visible Wi-Fi networks. The scan
// takes a few seconds of device time; callers should submit with a
// generous timeout.
func (d *Device) ScanAP(ctx context.Context) ([]AccessPoint, error) {
	member, err := d.q.Submit(ctx, d.endpoint,
		protocol.NewRequest(protocol.ModuleNetif, "get_scaninfo",
			map[string]int{"refresh": 1}))
	if err != nil {
		return nil, err
	}
	var payload struct {
		APList []AccessPoint `json:"ap_list"`
	}
	if err := json.Unmarshal(member, &payload); err != nil {
		return nil, protocol.NewDecodeError("scan result is not valid JSON", err)
	}
	return payload.APList, nil
}

// JoinAP points the device at a Wi-Fi network. The device switches
// networks immediately, so the response to this command is often lost;
// a timeout here usually means success.
func (d *Device) JoinAP(ctx context.Context, ssid, password string, keyType int) error {
	_, err := d.q.Submit(ctx, d.endpoint,
		protocol.NewRequest(protocol.ModuleNetif, "set_stainfo",
			map[string]any{"ssid": ssid, "password": password, "key_type": keyType}))
	return err
}
