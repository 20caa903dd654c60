package debug

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/dcrodman/parley/internal/network"
	"github.com/dcrodman/parley/internal/packets"
)

// CapturedPacket is one frame recovered from a capture.
type CapturedPacket struct {
	// Transport flow the frame was sent on, e.g. 51234->7410.
	Flow       gopacket.Flow
	FromServer bool
	// Frame body without the length prefix.
	Frame  []byte
	Info   packets.Info
	Packet packets.Packet
	// Set when the frame couldn't be decoded, in which case Packet is nil.
	Err error
}

type streamKey struct {
	net, transport gopacket.Flow
}

// captureReader splits the TCP payloads of each stream into frames.
type captureReader struct {
	port    layers.TCPPort
	codec   *network.Codec
	streams map[streamKey][]byte
	out     []CapturedPacket
}

// ReadCapture decodes every parley frame exchanged with the server on port in
// the pcap stream r. Segments are taken in capture order; retransmitted or
// reordered segments aren't reassembled.
func ReadCapture(r io.Reader, port uint16, registry *packets.Registry) ([]CapturedPacket, error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("error opening capture: %w", err)
	}

	c := &captureReader{
		port:    layers.TCPPort(port),
		codec:   network.NewCodec(registry, 0),
		streams: make(map[streamKey][]byte),
	}

	source := gopacket.NewPacketSource(reader, reader.LinkType())
	for {
		packet, err := source.NextPacket()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return c.out, fmt.Errorf("error reading capture: %w", err)
		}
		c.handlePacket(packet)
	}
	return c.out, nil
}

func (c *captureReader) handlePacket(packet gopacket.Packet) {
	tcp, ok := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
	if !ok || len(tcp.Payload) == 0 || packet.NetworkLayer() == nil {
		return
	}

	var fromServer bool
	switch c.port {
	case tcp.SrcPort:
		fromServer = true
	case tcp.DstPort:
		fromServer = false
	default:
		return
	}

	key := streamKey{net: packet.NetworkLayer().NetworkFlow(), transport: tcp.TransportFlow()}
	buf := append(c.streams[key], tcp.Payload...)

	for len(buf) >= network.LengthPrefixSize {
		length := binary.BigEndian.Uint32(buf)
		if length > uint32(c.codec.MaxFrameLength()) {
			c.out = append(c.out, CapturedPacket{
				Flow:       key.transport,
				FromServer: fromServer,
				Err:        fmt.Errorf("%w: %d bytes", network.ErrFrameTooLarge, length),
			})
			// There's no way to find the next frame boundary.
			buf = nil
			break
		}
		end := network.LengthPrefixSize + int(length)
		if len(buf) < end {
			break
		}

		frame := append([]byte(nil), buf[network.LengthPrefixSize:end]...)
		buf = buf[end:]
		if len(frame) == 0 {
			continue
		}

		captured := CapturedPacket{Flow: key.transport, FromServer: fromServer, Frame: frame}
		captured.Packet, captured.Info, captured.Err = c.codec.Decode(frame)
		c.out = append(c.out, captured)
	}

	if len(buf) == 0 {
		delete(c.streams, key)
	} else {
		c.streams[key] = buf
	}
}
