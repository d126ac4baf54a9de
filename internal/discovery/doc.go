// Package discovery finds Kasa devices on the local network.
//
// The primary mechanism is the protocol's own probe: the sysinfo query,
// obfuscated and sent as a UDP datagram to the subnet broadcast address
// on port 9999, plus optional concurrent unicast probes to known hosts.
// Every response arriving inside the collection window is decoded,
// classified into a device variant, and deduplicated by endpoint with
// the most recent response winning. Undecodable or unreachable targets
// drop silently; only the window ending (or the caller cancelling)
// finishes a scan, and early cancellation still returns the partial
// result set.
//
// Cameras ignore the UDP probe, so MDNSScan additionally browses the
// DNS-SD service they advertise and Merge folds those sightings into
// the probe results.
package discovery
