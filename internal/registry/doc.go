// Package registry classifies decoded device status payloads into
// device variants.
//
// Kasa firmware does not carry an explicit "I am a plug" field; the
// family has to be inferred from which fields a get_sysinfo response
// contains. Classification is an ordered list of predicate rules,
// first match wins, most specific shape first, ending in an "unknown"
// catch-all. Discovery uses it to tag descriptors and the device
// package uses it to pick the right typed facade.
package registry
