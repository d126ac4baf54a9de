package config

import (
	"time"
)

// Registry represents the entire user configuration file. It stores
// client-side metadata for known devices plus application preferences;
// nothing in it is required for talking to a device.
type Registry struct {
	Version     int                `yaml:"version"`
	Devices     map[string]*Device `yaml:"devices,omitempty"` // Keyed by device ID
	Preferences *Preferences       `yaml:"preferences,omitempty"`
}

// Device is user-defined metadata for a single device, keyed by the
// device ID reported in its status.
type Device struct {
	Nickname string    `yaml:"nickname,omitempty"`  // User-friendly name
	LastAddr string    `yaml:"last_addr,omitempty"` // Last known host:port
	LastSeen time.Time `yaml:"last_seen,omitempty"` // Last discovery/connection time
	Variant  string    `yaml:"variant,omitempty"`   // Classified device family (plug, bulb, ...)
	Model    string    `yaml:"model,omitempty"`     // Hardware model string
}

// Preferences are application-wide defaults applied when a command
// does not override them with flags.
type Preferences struct {
	Port           int      `yaml:"port"`                // Device port, normally 9999
	TimeoutSeconds int      `yaml:"timeout_seconds"`     // Per-attempt command timeout
	Retries        int      `yaml:"retries"`             // Retries after a timed-out or failed attempt
	WindowSeconds  int      `yaml:"scan_window_seconds"` // Discovery listen window
	Broadcast      string   `yaml:"broadcast,omitempty"` // Discovery broadcast address override
	Targets        []string `yaml:"targets,omitempty"`   // Extra unicast probe targets
	MDNS           bool     `yaml:"mdns"`                // Also run an mDNS scan for cameras
}

// Timeout returns the per-attempt command timeout as a duration
func (p *Preferences) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// ScanWindow returns the discovery window as a duration
func (p *Preferences) ScanWindow() time.Duration {
	return time.Duration(p.WindowSeconds) * time.Second
}

// NewRegistry creates a new Registry with default values
func NewRegistry() *Registry {
	return &Registry{
		Version: 1,
		Devices: make(map[string]*Device),
		Preferences: &Preferences{
			Port:           9999,
			TimeoutSeconds: 5,
			Retries:        1,
			WindowSeconds:  3,
			MDNS:           false,
		},
	}
}

// GetDevice retrieves device metadata by device ID. Returns nil if the
// device is not in the registry.
func (r *Registry) GetDevice(id string) *Device {
	return r.Devices[id]
}

// EnsureDevice returns the entry for id, creating an empty one first
// if the registry has never seen it.
func (r *Registry) EnsureDevice(id string) *Device {
	if r.Devices == nil {
		r.Devices = make(map[string]*Device)
	}
	if dev, exists := r.Devices[id]; exists {
		return dev
	}
	dev := &Device{}
	r.Devices[id] = dev
	return dev
}

// RememberSighting records where and as what a device last answered
func (r *Registry) RememberSighting(id, addr, variant, model string) {
	dev := r.EnsureDevice(id)
	dev.LastAddr = addr
	dev.LastSeen = time.Now()
	dev.Variant = variant
	if model != "" {
		dev.Model = model
	}
}

// SetDeviceNickname sets a user-friendly nickname for a device
func (r *Registry) SetDeviceNickname(id, nickname string) {
	r.EnsureDevice(id).Nickname = nickname
}
