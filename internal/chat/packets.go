// Package chat is the chat application built on the network package: the packets
// clients and the server exchange, the history store, the server-side service and
// the client console.
package chat

import (
	"fmt"
	"time"

	"github.com/dcrodman/parley/internal/core/bytes"
	"github.com/dcrodman/parley/internal/packets"
)

const (
	SayID     = 1
	MessageID = 2
	HistoryID = 3
)

// MaxHistory is the largest number of messages a single History reply can carry.
const MaxHistory = 255

// Packets returns the chat packet set in registration order.
func Packets() []packets.Info {
	return []packets.Info{
		packets.Plain(SayID, func() packets.Packet { return new(Say) }),
		packets.Plain(MessageID, func() packets.Packet { return new(Message) }),
		packets.Exchanged(HistoryID, func() packets.Respondable { return new(History) }),
	}
}

// Say is sent by a client to post a line to the room.
type Say struct {
	Text string
}

func (*Say) SendRule() packets.SendRule { return packets.SendClient }

func (p *Say) EncodePayload(w *bytes.Writer) error { return w.WriteString(p.Text) }
func (p *Say) DecodePayload(r *bytes.Reader) (err error) {
	p.Text, err = r.ReadString()
	return err
}

// Message is a line delivered to every member of the room. Announcements made by
// the server itself have no author.
type Message struct {
	From   string
	Text   string
	SentAt time.Time
}

func (*Message) SendRule() packets.SendRule { return packets.SendServer }

func (p *Message) EncodePayload(w *bytes.Writer) error {
	if err := w.WriteString(p.From); err != nil {
		return err
	}
	if err := w.WriteString(p.Text); err != nil {
		return err
	}
	w.PutInt64(p.SentAt.UnixMilli())
	return nil
}

func (p *Message) DecodePayload(r *bytes.Reader) error {
	var err error
	if p.From, err = r.ReadString(); err != nil {
		return err
	}
	if p.Text, err = r.ReadString(); err != nil {
		return err
	}
	millis, err := r.Int64()
	if err != nil {
		return err
	}
	p.SentAt = time.UnixMilli(millis)
	return nil
}

// Announcement reports whether the message was generated by the server.
func (p *Message) Announcement() bool { return p.From == "" }

// HistoryRequest asks for up to Limit of the most recent messages. A Limit of zero
// asks for as many as the server keeps.
type HistoryRequest struct {
	Limit uint8
}

func (p *HistoryRequest) EncodePayload(w *bytes.Writer) error {
	w.PutUint8(p.Limit)
	return nil
}

func (p *HistoryRequest) DecodePayload(r *bytes.Reader) (err error) {
	p.Limit, err = r.Uint8()
	return err
}

// HistoryResponse carries the requested messages, oldest first.
type HistoryResponse struct {
	Messages []Message
}

func (p *HistoryResponse) EncodePayload(w *bytes.Writer) error {
	if len(p.Messages) > MaxHistory {
		return fmt.Errorf("history of %d messages exceeds %d", len(p.Messages), MaxHistory)
	}
	w.PutUint8(uint8(len(p.Messages)))
	for i := range p.Messages {
		if err := p.Messages[i].EncodePayload(w); err != nil {
			return err
		}
	}
	return nil
}

func (p *HistoryResponse) DecodePayload(r *bytes.Reader) error {
	n, err := r.Uint8()
	if err != nil {
		return err
	}
	p.Messages = make([]Message, n)
	for i := range p.Messages {
		if err := p.Messages[i].DecodePayload(r); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	return nil
}

// History is the request/response pair for recent room messages.
type History struct {
	packets.Exchange
	Req  HistoryRequest
	Resp HistoryResponse
}

func (p *History) Request() packets.Payload            { return &p.Req }
func (p *History) Response() packets.Payload           { return &p.Resp }
func (p *History) EncodePayload(w *bytes.Writer) error { return packets.EncodeExchange(p, w) }
func (p *History) DecodePayload(r *bytes.Reader) error { return packets.DecodeExchange(p, r) }
