package network

import (
	"encoding/binary"
	"fmt"

	"github.com/dcrodman/parley/internal/core/bytes"
	"github.com/dcrodman/parley/internal/packets"
)

const (
	opEncode = "encode"
	opDecode = "decode"
)

// Codec translates between frames and packets using an instance's registry. When
// it's attached to a correlation table, encoding a respondable request that has a
// response handler also reserves its correlation id.
type Codec struct {
	registry       *packets.Registry
	responses      *responseTable
	maxFrameLength int
}

// NewCodec returns a stateless Codec, suitable for decoding frames captured
// outside of a running instance.
func NewCodec(registry *packets.Registry, maxFrameLength int) *Codec {
	return newCodec(registry, nil, maxFrameLength)
}

func newCodec(registry *packets.Registry, responses *responseTable, maxFrameLength int) *Codec {
	if maxFrameLength <= 0 {
		maxFrameLength = DefaultMaxFrameLength
	}
	return &Codec{registry: registry, responses: responses, maxFrameLength: maxFrameLength}
}

// MaxFrameLength is the largest frame body this codec reads or writes.
func (c *Codec) MaxFrameLength() int { return c.maxFrameLength }

// Encode returns the complete frame for p, length prefix included.
func (c *Codec) Encode(p packets.Packet) ([]byte, error) {
	return c.encode(p, nil)
}

// encode is Encode for a packet about to be sent over conn. A request's reply is
// only accepted from conn.
func (c *Codec) encode(p packets.Packet, conn *Connection) ([]byte, error) {
	info, err := c.registry.Resolve(p)
	if err != nil {
		return nil, &CodecError{Op: opEncode, PacketType: fmt.Sprintf("%T", p), Err: err}
	}

	w := bytes.NewWriter(64)
	w.PutUint32(0) // Length, filled in once the body is known.
	w.PutInt8(int8(info.ID))

	if info.Kind == packets.KindRespondable {
		corr := p.(packets.Respondable).Correlation()
		if !corr.Response {
			if err := c.assign(corr, conn); err != nil {
				return nil, &CodecError{Op: opEncode, PacketID: info.ID, PacketType: info.Name, Err: err}
			}
		}
		w.PutUint8(corr.ID)
		w.PutBool(corr.Response)
	}

	if err := p.EncodePayload(w); err != nil {
		c.release(p)
		return nil, &CodecError{Op: opEncode, PacketID: info.ID, PacketType: info.Name, Err: err}
	}

	frame := w.Bytes()
	length := len(frame) - LengthPrefixSize
	if length > c.maxFrameLength {
		c.release(p)
		return nil, &CodecError{
			Op:         opEncode,
			PacketID:   info.ID,
			PacketType: info.Name,
			Err:        fmt.Errorf("%w: %d bytes, limit is %d", ErrFrameTooLarge, length, c.maxFrameLength),
		}
	}
	binary.BigEndian.PutUint32(frame, uint32(length))
	return frame, nil
}

// assign gives a new request its correlation id. Requests nobody is waiting on
// travel with the unrouted id and take no slot in the table.
func (c *Codec) assign(corr *packets.Correlation, conn *Connection) error {
	if c.responses == nil || corr.Handler == nil {
		corr.ID = unroutedID
		return nil
	}
	id, err := c.responses.register(corr.Handler, conn)
	if err != nil {
		return err
	}
	corr.ID = id
	return nil
}

// release frees the correlation id reserved for p when it never made it onto the wire.
func (c *Codec) release(p packets.Packet) {
	r, ok := p.(packets.Respondable)
	if !ok || c.responses == nil {
		return
	}
	corr := r.Correlation()
	if corr.Response || corr.Handler == nil || corr.ID == unroutedID {
		return
	}
	c.responses.release(corr.ID)
}

// Decode turns a frame body (without its length prefix) into a packet.
func (c *Codec) Decode(frame []byte) (packets.Packet, packets.Info, error) {
	r := bytes.NewReader(frame)

	rawID, err := r.Int8()
	if err != nil {
		return nil, packets.Info{}, &CodecError{Op: opDecode, Err: err}
	}
	id := packets.ID(rawID)

	p, info, err := c.registry.Create(id)
	if err != nil {
		return nil, info, &CodecError{Op: opDecode, PacketID: id, PacketType: info.Name, Err: err}
	}

	if info.Kind == packets.KindRespondable {
		corr := p.(packets.Respondable).Correlation()
		if corr.ID, err = r.Uint8(); err != nil {
			return nil, info, &CodecError{Op: opDecode, PacketID: id, PacketType: info.Name, Err: fmt.Errorf("correlation id: %w", err)}
		}
		if corr.Response, err = r.Bool(); err != nil {
			return nil, info, &CodecError{Op: opDecode, PacketID: id, PacketType: info.Name, Err: fmt.Errorf("response flag: %w", err)}
		}
	}

	if err := p.DecodePayload(r); err != nil {
		return nil, info, &CodecError{Op: opDecode, PacketID: id, PacketType: info.Name, Err: err}
	}
	return p, info, nil
}
