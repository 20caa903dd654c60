package network

import (
	stdbytes "bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/go-test/deep"
	"github.com/google/go-cmp/cmp"

	"github.com/dcrodman/parley/internal/core/bytes"
	"github.com/dcrodman/parley/internal/packets"
)

func TestCodec_RoundTrip(t *testing.T) {
	codec := NewCodec(testRegistry(t), 0)

	tests := map[string]struct {
		packet packets.Packet
	}{
		"plain packet":              {packet: &ping{Seq: 7, Note: "hello"}},
		"plain packet, empty field": {packet: &ping{}},
		"authentication":            {packet: &packets.Authentication{Identity: "neo", Token: []byte{}}},
		"authentication success":    {packet: &packets.AuthenticationSuccess{}},
		"custom disconnect":         {packet: packets.NewCustomDisconnect("bye")},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			frame, err := codec.Encode(tt.packet)
			if err != nil {
				t.Fatalf("Encode() returned an unexpected error: %v", err)
			}
			if got := binary.BigEndian.Uint32(frame); int(got) != len(frame)-LengthPrefixSize {
				t.Fatalf("length prefix %d doesn't cover the %d byte body", got, len(frame)-LengthPrefixSize)
			}

			decoded, _, err := codec.Decode(frame[LengthPrefixSize:])
			if err != nil {
				t.Fatalf("Decode() returned an unexpected error: %v", err)
			}
			if diff := deep.Equal(tt.packet, decoded); diff != nil {
				t.Error(diff)
			}
		})
	}
}

func TestCodec_RespondableHeader(t *testing.T) {
	codec := NewCodec(testRegistry(t), 0)

	request := &lookup{Req: lookupRequest{Key: "motd"}}
	frame, err := codec.Encode(request)
	if err != nil {
		t.Fatalf("Encode() returned an unexpected error: %v", err)
	}
	// id, correlation id, response flag, then the request's var bytes.
	want := []byte{0, 0, 0, 9, lookupID, 0, 0, 0, 4, 'm', 'o', 't', 'd'}
	if diff := cmp.Diff(want, frame); diff != "" {
		t.Fatalf("request frame mismatch; diff:\n%s", diff)
	}

	decoded, info, err := codec.Decode(frame[LengthPrefixSize:])
	if err != nil {
		t.Fatalf("Decode() returned an unexpected error: %v", err)
	}
	if info.Kind != packets.KindRespondable {
		t.Errorf("expected a respondable registration, got %s", info.Kind)
	}

	reply := decoded.(*lookup)
	reply.Resp = lookupResponse{Found: true, Value: []byte("welcome")}
	reply.MarkAsResponse()
	reply.Correlation().ID = 42

	frame, err = codec.Encode(reply)
	if err != nil {
		t.Fatalf("Encode() returned an unexpected error: %v", err)
	}
	decoded, _, err = codec.Decode(frame[LengthPrefixSize:])
	if err != nil {
		t.Fatalf("Decode() returned an unexpected error: %v", err)
	}
	got := decoded.(*lookup)
	if !got.IsResponse() || got.CorrelationID() != 42 {
		t.Errorf("expected response 42, got response=%v id=%d", got.IsResponse(), got.CorrelationID())
	}
	if diff := deep.Equal(reply.Resp, got.Resp); diff != nil {
		t.Error(diff)
	}
}

func TestCodec_AssignsCorrelationIDs(t *testing.T) {
	responses := newResponseTable(time.Minute, nil)
	codec := newCodec(testRegistry(t), responses, 0)

	first := &lookup{}
	first.OnResponse(func(packets.Respondable) {})
	second := &lookup{}
	second.OnResponse(func(packets.Respondable) {})
	untracked := &lookup{}

	for _, p := range []*lookup{first, second, untracked} {
		if _, err := codec.Encode(p); err != nil {
			t.Fatalf("Encode() returned an unexpected error: %v", err)
		}
	}

	if first.CorrelationID() == second.CorrelationID() {
		t.Errorf("two outstanding requests share correlation id %d", first.CorrelationID())
	}
	if untracked.CorrelationID() != unroutedID {
		t.Errorf("request without a handler got id %d", untracked.CorrelationID())
	}
	if n := responses.inFlight(); n != 2 {
		t.Errorf("expected 2 requests in flight, got %d", n)
	}
}

func TestCodec_Errors(t *testing.T) {
	codec := NewCodec(testRegistry(t), 0)

	tests := map[string]struct {
		frame   []byte
		wantErr error
	}{
		"unknown id": {
			frame:   []byte{0x50},
			wantErr: packets.ErrUnknownPacketID,
		},
		"truncated var bytes": {
			frame:   []byte{pingID, 0, 0, 0, 1, 0, 5, 'a'},
			wantErr: bytes.ErrMalformedField,
		},
		"negative var bytes length": {
			frame:   []byte{pingID, 0, 0, 0, 1, 0x80, 0x00},
			wantErr: bytes.ErrMalformedField,
		},
		"respondable without correlation header": {
			frame:   []byte{lookupID, 1},
			wantErr: bytes.ErrShortBuffer,
		},
		"invalid disconnect reason": {
			frame:   []byte{0xFF, 0x20},
			wantErr: bytes.ErrMalformedField,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := codec.Decode(tt.frame)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			var codecErr *CodecError
			if !errors.As(err, &codecErr) || codecErr.Op != opDecode {
				t.Errorf("expected a decode CodecError, got %T", err)
			}
		})
	}
}

type unregistered struct{ ping }

func TestCodec_EncodeErrors(t *testing.T) {
	codec := NewCodec(testRegistry(t), 16)

	if _, err := codec.Encode(&unregistered{}); !errors.Is(err, packets.ErrUnregisteredPacket) {
		t.Errorf("expected ErrUnregisteredPacket, got %v", err)
	}
	if _, err := codec.Encode(&ping{Note: "this note is far too long"}); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("expected ErrFrameTooLarge, got %v", err)
	}
	if _, err := codec.Encode(&packets.Disconnect{Reason: 9}); err == nil {
		t.Error("expected an error encoding an unknown disconnect reason")
	}
}

func TestReadFrame(t *testing.T) {
	var stream stdbytes.Buffer
	for _, body := range [][]byte{{}, {1, 2, 3}, {4}} {
		if err := WriteFrame(&stream, body); err != nil {
			t.Fatalf("WriteFrame() returned an unexpected error: %v", err)
		}
	}

	var got [][]byte
	for stream.Len() > 0 {
		frame, err := ReadFrame(&stream, 8)
		if err != nil {
			t.Fatalf("ReadFrame() returned an unexpected error: %v", err)
		}
		got = append(got, frame)
	}

	want := [][]byte{{}, {1, 2, 3}, {4}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("frames mismatch; diff:\n%s", diff)
	}
}

func TestReadFrame_TooLarge(t *testing.T) {
	stream := stdbytes.NewReader([]byte{0, 0, 0x27, 0x11})
	if _, err := ReadFrame(stream, DefaultMaxFrameLength); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}
