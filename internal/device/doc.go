// Package device provides typed facades over the command queue.
//
// Each Kasa device family gets a thin wrapper exposing its operations
// as methods: Plug switches relays, Dimmer adds brightness, Strip
// addresses individual outlets, Bulb drives the lighting service,
// Camera answers status only. All facades embed Device, which carries
// the operations every firmware supports (sysinfo, alias, reboot,
// cloud binding, Wi-Fi setup).
//
// Facades hold no protocol or concurrency logic; every call goes
// through a Querier (the command queue), which serializes access per
// endpoint. ForVariant and FromDescriptor map classifier tags to the
// right facade.
package device
