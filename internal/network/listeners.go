package network

import (
	"reflect"
	"runtime/debug"
	"sync"

	"github.com/dcrodman/parley/internal/packets"
)

// PacketHandler receives packets of the types it was subscribed to.
type PacketHandler func(c *Connection, p packets.Packet)

// ResponseHandler receives a respondable request and fills in its response
// payload. Returning nil sends the packet back to the requester as the reply;
// returning an error sends nothing.
type ResponseHandler func(c *Connection, request packets.Respondable) error

type handlerKind uint8

const (
	plainHandler handlerKind = iota
	responseHandler
)

// Listener is a subscription returned by Subscribe and SubscribeRespondable.
type Listener struct {
	kind    handlerKind
	types   map[reflect.Type]struct{}
	plain   PacketHandler
	respond ResponseHandler
}

func (l *Listener) matches(p packets.Packet) bool {
	_, ok := l.types[reflect.TypeOf(p)]
	return ok
}

type listenerSet struct {
	mu        sync.Mutex
	listeners []*Listener
}

func typeSet[T any](types []T) map[reflect.Type]struct{} {
	set := make(map[reflect.Type]struct{}, len(types))
	for _, t := range types {
		set[reflect.TypeOf(t)] = struct{}{}
	}
	return set
}

func (s *listenerSet) add(l *Listener) *Listener {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := make([]*Listener, 0, len(s.listeners)+1)
	s.listeners = append(append(updated, s.listeners...), l)
	return l
}

func (s *listenerSet) remove(l *Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.listeners {
		if existing == l {
			updated := make([]*Listener, 0, len(s.listeners)-1)
			updated = append(updated, s.listeners[:i]...)
			s.listeners = append(updated, s.listeners[i+1:]...)
			return true
		}
	}
	return false
}

func (s *listenerSet) snapshot() []*Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listeners
}

// dispatch hands p to every matching plain listener in subscription order. A
// respondable request is then answered by the first matching response handler.
func (s *listenerSet) dispatch(c *Connection, p packets.Packet) {
	request, respondable := p.(packets.Respondable)
	answered := false
	delivered := false

	for _, l := range s.snapshot() {
		if !l.matches(p) {
			continue
		}
		switch l.kind {
		case plainHandler:
			delivered = true
			s.guard(c, p, func() { l.plain(c, p) })
		case responseHandler:
			if !respondable || answered {
				continue
			}
			answered = true
			s.respond(c, request, l.respond)
		}
	}

	if respondable && !answered {
		c.log().WithField("packet", c.packetName(p)).Warn("no response handler for request, dropping it")
	} else if !delivered && !answered {
		c.log().WithField("packet", c.packetName(p)).Debug("no listener for packet")
	}
}

func (s *listenerSet) respond(c *Connection, request packets.Respondable, handler ResponseHandler) {
	var err error
	if !s.guard(c, request, func() { err = handler(c, request) }) {
		return
	}
	if err != nil {
		c.log().WithField("packet", c.packetName(request)).Warnf("response handler failed: %v", err)
		return
	}

	request.Correlation().Response = true
	if err := c.SendPacket(request); err != nil {
		c.log().WithField("packet", c.packetName(request)).Warnf("failed to send response: %v", err)
	}
}

// guard runs fn and reports whether it returned without panicking.
func (s *listenerSet) guard(c *Connection, p packets.Packet, fn func()) (ok bool) {
	defer func() {
		if err := recover(); err != nil {
			c.log().WithField("packet", c.packetName(p)).
				Errorf("listener panicked: %v\n%s", err, debug.Stack())
		}
	}()
	fn()
	return true
}
