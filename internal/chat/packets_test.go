package chat

import (
	"testing"
	"time"

	"github.com/go-test/deep"

	"github.com/dcrodman/parley/internal/core/bytes"
	"github.com/dcrodman/parley/internal/network"
	"github.com/dcrodman/parley/internal/packets"
)

func TestHistory_Response(t *testing.T) {
	codec := network.NewCodec(packets.MustRegistry(Packets()...), 0)

	sent := &History{Resp: HistoryResponse{Messages: []Message{
		{From: "zion", Text: "first", SentAt: time.UnixMilli(1700000000000)},
		{Text: "jax joined", SentAt: time.UnixMilli(1700000001234)},
	}}}
	sent.MarkAsResponse()

	frame, err := codec.Encode(sent)
	if err != nil {
		t.Fatalf("Encode() returned an unexpected error: %v", err)
	}
	decoded, _, err := codec.Decode(frame[network.LengthPrefixSize:])
	if err != nil {
		t.Fatalf("Decode() returned an unexpected error: %v", err)
	}

	got, ok := decoded.(*History)
	if !ok {
		t.Fatalf("decoded %T, want *History", decoded)
	}
	if !got.IsResponse() {
		t.Error("decoded packet isn't a response")
	}
	if diff := deep.Equal(got.Resp.Messages, sent.Resp.Messages); diff != nil {
		t.Error(diff)
	}
	if !got.Resp.Messages[1].Announcement() {
		t.Error("message without an author should be an announcement")
	}
}

func TestHistoryResponse_TooManyMessages(t *testing.T) {
	resp := &HistoryResponse{Messages: make([]Message, MaxHistory+1)}
	if err := resp.EncodePayload(bytes.NewWriter(0)); err == nil {
		t.Error("expected an error encoding more than MaxHistory messages")
	}
}
