// Package oscerr defines the sentinel errors shared across the osc
// control and scheduling packages. Callers should test for these with
// errors.Is rather than string matching.
package oscerr

import "errors"

var (
	// ErrMalformedPacket is returned when a datagram cannot be decoded
	// as a valid OSC message or bundle.
	ErrMalformedPacket = errors.New("osc: malformed packet")

	// ErrPacketTooLarge is returned when an outgoing packet exceeds the
	// transport's configured maximum size.
	ErrPacketTooLarge = errors.New("osc: packet too large")

	// ErrArgumentTooLarge is returned when a blob argument is longer than
	// its 32-bit length field can represent.
	ErrArgumentTooLarge = errors.New("osc: argument too large")

	// ErrTimedOut is returned by a server Sync whose timeout elapses
	// before the matching reply arrives. Reply-queue waits report their
	// context's own error instead.
	ErrTimedOut = errors.New("osc: timed out waiting for reply")

	// ErrShutdown is returned by operations issued against a transport
	// or server that has already been closed.
	ErrShutdown = errors.New("osc: shut down")

	// ErrExhausted is returned by an id allocator that has no ids left
	// to give out in its configured range.
	ErrExhausted = errors.New("osc: id range exhausted")

	// ErrInvalidID is returned when freeing an id that the allocator
	// never handed out or that lies outside its configured range, and
	// when a peer name is registered twice.
	ErrInvalidID = errors.New("osc: invalid id")

	// ErrDoubleFree is returned when freeing an id that is already free.
	ErrDoubleFree = errors.New("osc: id already free")

	// ErrFinalized is returned by a bundler operation attempted after
	// the bundler has already been sent.
	ErrFinalized = errors.New("osc: bundler already finalized")

	// ErrNoCapture is returned by a bundler's Send when the bundler has
	// no receiver to send to.
	ErrNoCapture = errors.New("osc: no bundler on context")

	// ErrProtocolMismatch is returned when a server handshake reply does
	// not have the expected arguments.
	ErrProtocolMismatch = errors.New("osc: protocol mismatch")

	// ErrQueueClosed is returned by a reply queue once it has been
	// closed and will deliver no further values.
	ErrQueueClosed = errors.New("osc: queue closed")
)
