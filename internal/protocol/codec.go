package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// InitialKey is the starting key byte for the autokey XOR transform.
// Every Kasa-family device uses the same constant, so the scheme is
// obfuscation only, not confidentiality.
const InitialKey = 0xAB // 171

// MaxFrameSize is the largest stream frame we will accept. Real device
// responses top out around 4 KiB; anything bigger is a corrupt length
// prefix or a hostile peer.
const MaxFrameSize = 1 << 20

// ErrIncompleteFrame indicates that a stream frame's length prefix
// announced more bytes than are currently available. It is not a hard
// failure: the caller should keep reading until the frame completes.
var ErrIncompleteFrame = errors.New("protocol: incomplete frame")

// Encrypt applies the autokey XOR transform to plain and returns the
// obfuscated bytes. The key starts at InitialKey and follows the
// previous ciphertext byte.
func Encrypt(plain []byte) []byte {
	out := make([]byte, len(plain))
	key := byte(InitialKey)
	for i, b := range plain {
		out[i] = b ^ key
		key = out[i]
	}
	return out
}

// Decrypt reverses Encrypt. The key follows the previous ciphertext
// byte just read, making Decrypt(Encrypt(p)) == p for all p.
func Decrypt(wire []byte) []byte {
	out := make([]byte, len(wire))
	key := byte(InitialKey)
	for i, b := range wire {
		out[i] = b ^ key
		key = b
	}
	return out
}

// PackFrame encrypts plain and prepends the 4-byte big-endian length
// prefix used by the stream (TCP) transport.
func PackFrame(plain []byte) []byte {
	enc := Encrypt(plain)
	frame := make([]byte, 4+len(enc))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(enc)))
	copy(frame[4:], enc)
	return frame
}

// UnpackFrame decodes a complete stream frame from buf. It returns the
// decrypted payload and the total number of bytes consumed. If buf does
// not yet hold a whole frame it returns ErrIncompleteFrame so the
// caller can wait for more data.
func UnpackFrame(buf []byte) ([]byte, int, error) {
	if len(buf) < 4 {
		return nil, 0, ErrIncompleteFrame
	}
	n := binary.BigEndian.Uint32(buf[:4])
	if n > MaxFrameSize {
		return nil, 0, fmt.Errorf("protocol: frame length %d exceeds limit", n)
	}
	if len(buf) < 4+int(n) {
		return nil, 0, ErrIncompleteFrame
	}
	return Decrypt(buf[4 : 4+n]), 4 + int(n), nil
}

// WriteFrame encrypts plain and writes a length-prefixed stream frame
// to w.
func WriteFrame(w io.Writer, plain []byte) error {
	if _, err := w.Write(PackFrame(plain)); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// ReadFrame reads exactly one length-prefixed stream frame from r and
// returns the decrypted payload. It blocks until the full frame is
// available; a read cut short by the peer or a deadline surfaces as the
// underlying I/O error.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("protocol: frame length %d exceeds limit", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("failed to read frame payload: %w", err)
	}
	return Decrypt(payload), nil
}

// PackDatagram encrypts plain for the datagram (UDP) transport. No
// length prefix: one protocol message per datagram.
func PackDatagram(plain []byte) []byte {
	return Encrypt(plain)
}

// UnpackDatagram decrypts a single received datagram.
func UnpackDatagram(wire []byte) []byte {
	return Decrypt(wire)
}
