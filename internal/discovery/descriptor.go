package discovery

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/muurk/kasalink/internal/protocol"
	"github.com/muurk/kasalink/internal/registry"
	"github.com/muurk/kasalink/internal/transport"
)

// Descriptor represents one discovered device on the network
type Descriptor struct {
	// Endpoint is the address the device answered from
	Endpoint transport.Endpoint

	// Variant is the classified device family tag
	Variant registry.Variant

	// Info is the decoded sysinfo status, nil for devices found only
	// via mDNS
	Info *protocol.SysInfo

	// RawStatus is the decoded JSON status payload as received
	RawStatus json.RawMessage

	// ReceivedAt is when the response arrived; with duplicate responses
	// in one window, the most recent wins
	ReceivedAt time.Time
}

// Alias returns the device's user-visible name, falling back to the
// model, then the address
func (d *Descriptor) Alias() string {
	if d.Info != nil && d.Info.Alias != "" {
		return d.Info.Alias
	}
	if d.Info != nil && d.Info.Model != "" {
		return d.Info.Model
	}
	return d.Endpoint.Addr()
}

// String returns a human-readable string representation of the device
func (d *Descriptor) String() string {
	model := ""
	if d.Info != nil {
		model = d.Info.Model
	}
	return fmt.Sprintf("%s %s (%s) at %s", d.Variant, d.Alias(), model, d.Endpoint.Addr())
}
