// Package bytes holds the big-endian buffer primitives shared by every packet
// encoder and decoder.
package bytes

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// MaxVarBytesLength is the largest payload a variable length field can carry. The
// length prefix is read as a signed 16 bit value on the wire, so the top bit is never set.
const MaxVarBytesLength = 0x7FFF

var (
	// ErrShortBuffer is returned when a read runs past the end of the frame.
	ErrShortBuffer = errors.New("bytes: read past end of buffer")
	// ErrMalformedField is returned for variable length fields that can't be decoded.
	ErrMalformedField = errors.New("bytes: malformed variable length field")
)

// Writer accumulates big-endian encoded fields for a single frame.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with room for size bytes before it has to grow.
func NewWriter(size int) *Writer {
	return &Writer{buf: make([]byte, 0, size)}
}

// Bytes returns the encoded contents. The slice aliases the Writer's buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) PutUint8(v uint8) { w.buf = append(w.buf, v) }
func (w *Writer) PutInt8(v int8)   { w.buf = append(w.buf, byte(v)) }

func (w *Writer) PutBool(v bool) {
	if v {
		w.PutUint8(1)
	} else {
		w.PutUint8(0)
	}
}

func (w *Writer) PutUint16(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }
func (w *Writer) PutUint32(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }
func (w *Writer) PutInt64(v int64)   { w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(v)) }

// PutRaw appends b as-is with no length prefix.
func (w *Writer) PutRaw(b []byte) { w.buf = append(w.buf, b...) }

// WriteVarBytes writes b prefixed with its 2 byte length. A nil slice is written
// the same way as an empty one.
func (w *Writer) WriteVarBytes(b []byte) error {
	if len(b) > MaxVarBytesLength {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrMalformedField, len(b), MaxVarBytesLength)
	}
	w.PutUint16(uint16(len(b)))
	w.PutRaw(b)
	return nil
}

// WriteString writes s as UTF-8 variable length bytes.
func (w *Writer) WriteString(s string) error {
	return w.WriteVarBytes([]byte(s))
}

// Reader consumes big-endian encoded fields from a single frame.
type Reader struct {
	buf []byte
	off int
}

// NewReader returns a Reader over b. The Reader does not copy b.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) next(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, fmt.Errorf("%w: want %d bytes, have %d", ErrShortBuffer, n, r.Remaining())
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) Uint8() (uint8, error) {
	b, err := r.next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) Int8() (int8, error) {
	v, err := r.Uint8()
	return int8(v), err
}

// Bool reads a single byte; anything other than zero is true.
func (r *Reader) Bool() (bool, error) {
	v, err := r.Uint8()
	return v != 0, err
}

func (r *Reader) Uint16() (uint16, error) {
	b, err := r.next(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *Reader) Uint32() (uint32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Reader) Int64() (int64, error) {
	b, err := r.next(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// ReadVarBytes reads a 2 byte length followed by that many bytes. The returned
// slice is a copy and safe to retain.
func (r *Reader) ReadVarBytes() ([]byte, error) {
	length, err := r.Uint16()
	if err != nil {
		return nil, fmt.Errorf("%w: missing length prefix: %v", ErrMalformedField, err)
	}
	if length > MaxVarBytesLength {
		return nil, fmt.Errorf("%w: negative length 0x%04x", ErrMalformedField, length)
	}
	b, err := r.next(int(length))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedField, err)
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// ReadString reads variable length bytes and requires them to be valid UTF-8.
func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadVarBytes()
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%w: string is not valid UTF-8", ErrMalformedField)
	}
	return string(b), nil
}
