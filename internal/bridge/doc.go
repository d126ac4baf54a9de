// Package bridge exposes device state changes over WebSocket.
//
// The bridge subscribes to a monitor.Watcher and pushes each change to
// every connected client as a JSON event, and accepts small control
// messages (relay switching, alias changes, watch/unwatch) that it
// relays through the command queue. It is meant for same-host UIs;
// there is no authentication, so bind it to loopback.
package bridge
