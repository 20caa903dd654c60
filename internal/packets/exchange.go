package packets

import "github.com/dcrodman/parley/internal/core/bytes"

// Respondable is a packet that expects a reply. It carries two independent payload
// trackers: the request sent by the originator and the response filled in by the
// peer. Which one is on the wire depends on the packet's correlation state.
type Respondable interface {
	Packet
	Request() Payload
	Response() Payload
	Correlation() *Correlation
}

// ResponseFunc is invoked on the requesting side with the decoded reply.
type ResponseFunc func(reply Respondable)

// Correlation is the transient metadata that ties a reply to its request. None of
// it except ID and the response flag is ever serialized.
type Correlation struct {
	ID       uint8
	Response bool
	// Handler is only meaningful on the requesting side.
	Handler ResponseFunc
}

// Exchange is embedded by Respondable implementations to carry their correlation state.
type Exchange struct {
	corr Correlation
}

func (e *Exchange) Correlation() *Correlation { return &e.corr }

// OnResponse sets the handler that receives the reply to this request.
func (e *Exchange) OnResponse(fn ResponseFunc) { e.corr.Handler = fn }

// MarkAsResponse flips the packet into its response state so that it encodes the
// response tracker.
func (e *Exchange) MarkAsResponse() { e.corr.Response = true }

func (e *Exchange) IsResponse() bool { return e.corr.Response }

func (e *Exchange) CorrelationID() uint8 { return e.corr.ID }

// tracker returns whichever payload matches the packet's current state.
func tracker(p Respondable) Payload {
	if p.Correlation().Response {
		return p.Response()
	}
	return p.Request()
}

// EncodeExchange writes the request or the response of p, whichever its
// correlation state selects.
func EncodeExchange(p Respondable, w *bytes.Writer) error {
	return tracker(p).EncodePayload(w)
}

// DecodeExchange reads the request or the response of p, whichever its
// correlation state selects.
func DecodeExchange(p Respondable, r *bytes.Reader) error {
	return tracker(p).DecodePayload(r)
}
