package packets

import (
	"fmt"

	"github.com/dcrodman/parley/internal/core/bytes"
)

// Wire ids reserved for the system packets. They are registered on every registry.
const (
	AuthenticationID        ID = -3
	AuthenticationSuccessID ID = -2
	DisconnectID            ID = -1
)

// IsSystem reports whether id is one of the reserved system packet ids. Other
// negative ids belong to the application.
func IsSystem(id ID) bool {
	return id >= AuthenticationID && id <= DisconnectID
}

// DisconnectReason explains why a connection was closed.
type DisconnectReason uint8

const (
	NoReason DisconnectReason = iota
	IdentityTaken
	AuthKeyWrong
	AuthTimeout
	Custom
)

var reasonNames = [...]string{"NO_REASON", "IDENTITY_TAKEN", "AUTH_KEY_WRONG", "AUTH_TIMEOUT", "CUSTOM"}

var reasonMessages = [...]string{
	"Connection lost",
	"Identity already in use",
	"Failed to authenticate",
	"Failed to authenticate in time",
	"",
}

func (r DisconnectReason) Valid() bool { return int(r) < len(reasonNames) }

func (r DisconnectReason) String() string {
	if !r.Valid() {
		return fmt.Sprintf("DisconnectReason(%d)", uint8(r))
	}
	return reasonNames[r]
}

// Message returns the human readable explanation shown to users.
func (r DisconnectReason) Message() string {
	if !r.Valid() {
		return ""
	}
	return reasonMessages[r]
}

// Authentication is the first packet a client sends. It claims an identity and
// optionally presents the server's auth token.
type Authentication struct {
	Identity string
	Token    []byte
}

func (*Authentication) SendRule() SendRule { return SendClient }

func (p *Authentication) EncodePayload(w *bytes.Writer) error {
	if err := w.WriteString(p.Identity); err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	if err := w.WriteVarBytes(p.Token); err != nil {
		return fmt.Errorf("token: %w", err)
	}
	return nil
}

func (p *Authentication) DecodePayload(r *bytes.Reader) error {
	var err error
	if p.Identity, err = r.ReadString(); err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	if p.Token, err = r.ReadVarBytes(); err != nil {
		return fmt.Errorf("token: %w", err)
	}
	return nil
}

// AuthenticationSuccess confirms to the client that its identity was accepted.
type AuthenticationSuccess struct{}

func (*AuthenticationSuccess) SendRule() SendRule                 { return SendServer }
func (*AuthenticationSuccess) EncodePayload(w *bytes.Writer) error { return nil }
func (*AuthenticationSuccess) DecodePayload(r *bytes.Reader) error { return nil }

// Disconnect is sent just before a connection is closed to tell the peer why.
type Disconnect struct {
	Reason DisconnectReason
	// Detail is only carried on the wire when Reason is Custom.
	Detail string
}

// NewDisconnect returns a Disconnect for one of the predefined reasons.
func NewDisconnect(reason DisconnectReason) *Disconnect {
	return &Disconnect{Reason: reason}
}

// NewCustomDisconnect returns a Disconnect carrying a free text message.
func NewCustomDisconnect(msg string) *Disconnect {
	return &Disconnect{Reason: Custom, Detail: msg}
}

// Message returns the detail for custom disconnects and the reason's default
// message otherwise.
func (p *Disconnect) Message() string {
	if p.Reason == Custom {
		return p.Detail
	}
	return p.Reason.Message()
}

func (p *Disconnect) EncodePayload(w *bytes.Writer) error {
	if !p.Reason.Valid() {
		return fmt.Errorf("reason: unknown disconnect reason %d", uint8(p.Reason))
	}
	w.PutUint8(uint8(p.Reason))
	if p.Reason == Custom {
		if err := w.WriteString(p.Detail); err != nil {
			return fmt.Errorf("detail: %w", err)
		}
	}
	return nil
}

func (p *Disconnect) DecodePayload(r *bytes.Reader) error {
	v, err := r.Uint8()
	if err != nil {
		return fmt.Errorf("reason: %w", err)
	}
	p.Reason = DisconnectReason(v)
	if !p.Reason.Valid() {
		return fmt.Errorf("reason: %w: unknown disconnect reason %d", bytes.ErrMalformedField, v)
	}
	if p.Reason == Custom {
		if p.Detail, err = r.ReadString(); err != nil {
			return fmt.Errorf("detail: %w", err)
		}
	}
	return nil
}

func systemPackets() []Info {
	return []Info{
		Plain(int8(AuthenticationID), func() Packet { return new(Authentication) }),
		Plain(int8(AuthenticationSuccessID), func() Packet { return new(AuthenticationSuccess) }),
		Plain(int8(DisconnectID), func() Packet { return new(Disconnect) }),
	}
}
