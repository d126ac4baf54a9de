package registry

import (
	"strings"

	"github.com/muurk/kasalink/internal/protocol"
)

// Variant identifies which device family a decoded status belongs to
type Variant string

const (
	VariantPlug    Variant = "plug"
	VariantDimmer  Variant = "dimmer"
	VariantStrip   Variant = "strip"
	VariantBulb    Variant = "bulb"
	VariantCamera  Variant = "camera"
	VariantUnknown Variant = "unknown"
)

// Rule maps a predicate over decoded sysinfo fields to a variant tag
type Rule struct {
	Name  string
	Tag   Variant
	Match func(info *protocol.SysInfo) bool
}

// DefaultRules is the ordered rule set used by Classify. Evaluation is
// first-match-wins, so the most specific device shapes come first:
// cameras carry fields no other family has, strips are the only plugs
// with children, and a dimmer is a plug that also reports brightness.
// The shared fields (relay_state, type strings) come last.
var DefaultRules = []Rule{
	{
		Name: "camera-specific fields",
		Tag:  VariantCamera,
		Match: func(info *protocol.SysInfo) bool {
			return info.CameraType != "" || info.SystemState != nil ||
				strings.Contains(info.DeviceType(), "IPCAMERA")
		},
	},
	{
		Name: "strip has child outlets",
		Tag:  VariantStrip,
		Match: func(info *protocol.SysInfo) bool {
			return len(info.Children) > 0
		},
	},
	{
		Name: "dimmer is a plug with brightness",
		Tag:  VariantDimmer,
		Match: func(info *protocol.SysInfo) bool {
			return info.Brightness != nil && info.RelayState != nil
		},
	},
	{
		Name: "bulb reports light state",
		Tag:  VariantBulb,
		Match: func(info *protocol.SysInfo) bool {
			return info.LightState != nil ||
				strings.Contains(info.DeviceType(), "SMARTBULB")
		},
	},
	{
		Name: "plug reports relay state",
		Tag:  VariantPlug,
		Match: func(info *protocol.SysInfo) bool {
			return info.RelayState != nil ||
				strings.Contains(info.DeviceType(), "SMARTPLUGSWITCH")
		},
	},
}

// Classifier evaluates an ordered rule set against decoded sysinfo
// payloads. The zero-cost way to get the stock behavior is Classify.
type Classifier struct {
	rules []Rule
}

// NewClassifier builds a classifier with a custom rule set, evaluated
// in order
func NewClassifier(rules []Rule) *Classifier {
	return &Classifier{rules: rules}
}

// Classify returns the variant tag for info, or VariantUnknown when no
// rule matches. The function is pure: same input, same tag.
func (c *Classifier) Classify(info *protocol.SysInfo) Variant {
	if info == nil {
		return VariantUnknown
	}
	for _, rule := range c.rules {
		if rule.Match(info) {
			return rule.Tag
		}
	}
	return VariantUnknown
}

var defaultClassifier = NewClassifier(DefaultRules)

// Classify maps a decoded sysinfo payload to its device variant using
// the default rule set
func Classify(info *protocol.SysInfo) Variant {
	return defaultClassifier.Classify(info)
}
