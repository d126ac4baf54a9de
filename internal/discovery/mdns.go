package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/muurk/kasalink/internal/registry"
	"github.com/muurk/kasalink/internal/transport"
)

const (
	// MDNSServiceType is the DNS-SD service Kasa cameras and newer
	// firmware advertise
	MDNSServiceType = "_tplink._tcp"

	// MDNSServiceDomain is the mDNS domain (typically "local.")
	MDNSServiceDomain = "local."
)

// MDNSScan browses for devices advertising over mDNS and returns them
// as descriptors. Cameras do not answer the UDP broadcast probe, so
// this is the only way to find them passively; the returned descriptors
// carry no sysinfo until queried directly.
func MDNSScan(ctx context.Context, window time.Duration) ([]*Descriptor, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	ctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	var devices []*Descriptor

	go func() {
		for entry := range entries {
			if desc := parseServiceEntry(entry); desc != nil {
				devices = append(devices, desc)
			}
		}
	}()

	if err := resolver.Browse(ctx, MDNSServiceType, MDNSServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	// Wait for the window to elapse or the caller to cancel
	<-ctx.Done()
	return devices, nil
}

// parseServiceEntry converts a zeroconf service entry to a Descriptor.
// Returns nil if the entry carries no usable address.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Descriptor {
	var ip string
	for _, addr := range entry.AddrIPv4 {
		ip = addr.String()
		break
	}
	if ip == "" && len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	port := entry.Port
	if port == 0 {
		port = transport.DefaultPort
	}

	// TXT records are "key=value" pairs; the model string, when
	// present, lets us classify without a status query
	variant := registry.VariantUnknown
	for _, txt := range entry.Text {
		parts := strings.SplitN(txt, "=", 2)
		if len(parts) == 2 && parts[0] == "model" && strings.HasPrefix(parts[1], "KC") {
			variant = registry.VariantCamera
		}
	}

	return &Descriptor{
		Endpoint:   transport.NewEndpoint(ip, port, transport.Stream),
		Variant:    variant,
		ReceivedAt: time.Now(),
	}
}

// Merge folds mDNS results into a probe-based descriptor list without
// displacing richer entries: a descriptor that already carries sysinfo
// wins over an mDNS-only sighting of the same endpoint.
func Merge(primary, extra []*Descriptor) []*Descriptor {
	seen := make(map[string]bool, len(primary))
	out := append([]*Descriptor(nil), primary...)
	for _, d := range primary {
		seen[d.Endpoint.Key()] = true
	}
	for _, d := range extra {
		if !seen[d.Endpoint.Key()] {
			seen[d.Endpoint.Key()] = true
			out = append(out, d)
		}
	}
	return out
}
