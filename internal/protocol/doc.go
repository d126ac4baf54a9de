// Package protocol implements the Kasa device wire protocol.
//
// This package handles the obfuscation cipher, byte framing, request
// construction, and response parsing for TP-Link Kasa-family smart-home
// devices (plugs, switches, dimmers, power strips, bulbs, cameras).
//
// # Protocol Overview
//
// Devices exchange JSON objects keyed by service module name, then by
// member (request) name, then parameters:
//
//	{"system":{"set_relay_state":{"state":1}}}
//
// Responses echo the same shape with an added err_code (0 = success)
// and optional err_msg inside the member object.
//
// Every message is obfuscated with an autokey XOR transform: the key
// starts at 171 and is replaced by the previous ciphertext byte after
// each byte, on both the encrypt and decrypt side. The transform is
// self-inverse and carries no secret; it exists only because the
// devices expect it.
//
// # Framing
//
// Over TCP (port 9999) each message is prefixed with a 4-byte
// big-endian length covering the encrypted payload. Over UDP the
// encrypted payload is sent bare, one message per datagram.
//
// # Usage Example
//
//	req := protocol.SysInfoRequest()
//	plain, _ := req.Encode()
//	frame := protocol.PackFrame(plain) // ready to write to a TCP conn
//
//	// ... after reading the response frame:
//	member, err := protocol.ParseResponse(req, decrypted)
//	if err != nil {
//	    // typed DeviceError: decode failure or device err_code
//	}
//	info, err := protocol.ParseSysInfo(member)
package protocol
