package device

import (
	"github.com/muurk/kasalink/internal/discovery"
	"github.com/muurk/kasalink/internal/registry"
	"github.com/muurk/kasalink/internal/transport"
)

// Facade is the interface every typed device wrapper satisfies. Callers
// type-assert to the concrete facade (*Plug, *Bulb, ...) for
// variant-specific operations.
type Facade interface {
	Endpoint() transport.Endpoint
}

// ForVariant maps a variant tag to the matching typed facade. Unknown
// variants get the generic Device facade, which still answers sysinfo.
func ForVariant(q Querier, ep transport.Endpoint, variant registry.Variant) Facade {
	switch variant {
	case registry.VariantPlug:
		return NewPlug(q, ep)
	case registry.VariantDimmer:
		return NewDimmer(q, ep)
	case registry.VariantStrip:
		return NewStrip(q, ep)
	case registry.VariantBulb:
		return NewBulb(q, ep)
	case registry.VariantCamera:
		return NewCamera(q, ep)
	default:
		return New(q, ep)
	}
}

// FromDescriptor builds the typed facade for a discovered device
func FromDescriptor(q Querier, desc *discovery.Descriptor) Facade {
	return ForVariant(q, desc.Endpoint, desc.Variant)
}
