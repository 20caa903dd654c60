package network

import (
	"errors"
	"fmt"

	"github.com/dcrodman/parley/internal/packets"
)

var (
	// ErrFrameTooLarge is returned when a frame's length prefix exceeds the
	// configured maximum, in either direction.
	ErrFrameTooLarge = errors.New("network: frame exceeds maximum length")
	// ErrConnectionClosed is returned when sending over a connection that has been
	// closed or is in the middle of disconnecting.
	ErrConnectionClosed = errors.New("network: connection closed")
	// ErrNotWritable is returned when a connection's send queue is full.
	ErrNotWritable = errors.New("network: connection is not writable")
	// ErrNotConnected is returned by a client that has no live connection.
	ErrNotConnected = errors.New("network: not connected")
	// ErrSendRule is returned when a packet is sent from a side its send rule forbids.
	ErrSendRule = errors.New("network: packet may not be sent from this side")
	// ErrTooManyInFlight is returned when every correlation id is waiting on a reply.
	ErrTooManyInFlight = errors.New("network: too many requests in flight")
)

// CodecError describes a frame that could not be encoded or decoded. It unwraps to
// the underlying cause, usually one of the packets or bytes sentinels.
type CodecError struct {
	Op         string
	PacketID   packets.ID
	PacketType string
	Err        error
}

func (e *CodecError) Error() string {
	if e.PacketType == "" {
		return fmt.Sprintf("%s packet %d: %v", e.Op, e.PacketID, e.Err)
	}
	return fmt.Sprintf("%s %s (id %d): %v", e.Op, e.PacketType, e.PacketID, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }
