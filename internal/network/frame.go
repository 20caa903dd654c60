package network

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// LengthPrefixSize is the size of the big-endian length that starts every frame.
	LengthPrefixSize = 4
	// DefaultMaxFrameLength caps the length prefix a peer may announce.
	DefaultMaxFrameLength = 10000
)

// ReadFrame reads one length-prefixed frame from r and returns the bytes covered
// by the prefix. A frame announcing more than maxLength bytes fails with
// ErrFrameTooLarge before anything is allocated. A zero length frame returns an
// empty, non-nil slice.
func ReadFrame(r io.Reader, maxLength int) ([]byte, error) {
	var prefix [LengthPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if maxLength > 0 && length > uint32(maxLength) {
		return nil, fmt.Errorf("%w: %d bytes announced, limit is %d", ErrFrameTooLarge, length, maxLength)
	}

	frame := make([]byte, length)
	if _, err := io.ReadFull(r, frame); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return frame, nil
}

// WriteFrame prefixes body with its length and writes it to w in a single call.
func WriteFrame(w io.Writer, body []byte) error {
	frame := make([]byte, LengthPrefixSize, LengthPrefixSize+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	frame = append(frame, body...)

	_, err := w.Write(frame)
	return err
}
