package device

import (
	"context"
	"encoding/json"

	"github.com/muurk/kasalink/internal/protocol"
)

// CloudInfo is the device's cloud-binding status
type CloudInfo struct {
	Username     string `json:"username"`
	Server       string `json:"server"`
	Binded       int    `json:"binded"`
	CloudConnect int    `json:"cld_connection"`
	IllegalType  int    `json:"illegalType"`
	StopConnect  int    `json:"stopConnect"`
	TCSPStatus   int    `json:"tcspStatus"`
}

// Bound reports whether the device is bound to a cloud account
func (c *CloudInfo) Bound() bool {
	return c.Binded == 1
}

// CloudInfo queries the device's cloud-binding status
func (d *Device) CloudInfo(ctx context.Context) (*CloudInfo, error) {
	member, err := d.q.Submit(ctx, d.endpoint,
		protocol.NewRequest(protocol.ModuleCloud, "get_info", nil))
	if err != nil {
		return nil, err
	}
	var info CloudInfo
	if err := json.Unmarshal(member, &info); err != nil {
		return nil, protocol.NewDecodeError("cloud info is not valid JSON", err)
	}
	return &info, nil
}

// CloudBind binds the device to a cloud account
func (d *Device) CloudBind(ctx context.Context, username, password string) error {
	_, err := d.q.Submit(ctx, d.endpoint,
		protocol.NewRequest(protocol.ModuleCloud, "bind",
			map[string]string{"username": username, "password": password}))
	return err
}

// CloudUnbind detaches the device from its cloud account
func (d *Device) CloudUnbind(ctx context.Context) error {
	_, err := d.q.Submit(ctx, d.endpoint,
		protocol.NewRequest(protocol.ModuleCloud, "unbind", nil))
	return err
}

// SetCloudServer points the device at a different cloud server URL.
// Useful for keeping devices entirely on the LAN by aiming them at a
// sinkhole.
func (d *Device) SetCloudServer(ctx context.Context, serverURL string) error {
	_, err := d.q.Submit(ctx, d.endpoint,
		protocol.NewRequest(protocol.ModuleCloud, "set_server_url",
			map[string]string{"server": serverURL}))
	return err
}
