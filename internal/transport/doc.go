// Package transport moves protocol messages between the client and one
// device endpoint.
//
// Two transports exist. The stream transport holds a persistent TCP
// connection (default port 9999), reusing it across commands and
// redialing on the next call after a failure. The datagram transport
// opens a fresh UDP socket per exchange, used for discovery and for
// devices that drop persistent connections.
//
// Each transport instance is owned by exactly one endpoint's command
// worker; sockets are always released on success, error, and timeout
// paths. The stream transport tags every received frame with a
// connection generation so a reply arriving after its command timed out
// is recognized and discarded instead of resolving a later command.
package transport
