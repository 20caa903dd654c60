package network

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/parley/internal/packets"
)

const invalidIdentityMessage = "invalid identity"

// Server accepts connections and keeps two registries: connections still waiting
// to authenticate, and authenticated connections keyed by identity. A connection
// is in at most one of them at a time.
type Server struct {
	*instance
	addr string

	listenMu sync.Mutex
	listener net.Listener
	acceptWG sync.WaitGroup

	mu      sync.Mutex
	pending map[*Connection]func()
	named   map[string]*Connection
}

// NewServer configures a server that will listen on addr once started.
func NewServer(addr string, opts ...Option) (*Server, error) {
	s := &Server{
		addr:    addr,
		pending: make(map[*Connection]func()),
		named:   make(map[string]*Connection),
	}

	in, err := newInstance(packets.SideServer, "server", buildOptions(opts), s)
	if err != nil {
		return nil, err
	}
	s.instance = in
	return s, nil
}

// StartServer is NewServer followed by Start.
func StartServer(addr string, opts ...Option) (*Server, error) {
	s, err := NewServer(addr, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.Start(); err != nil {
		return nil, err
	}
	return s, nil
}

// Start binds the listening socket and starts accepting connections in the
// background. A bind failure leaves the server stopped. Starting a running server
// logs a warning and does nothing.
func (s *Server) Start() error {
	if !s.start() {
		return nil
	}

	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.log.WithError(err).Error("failed to bind server socket")
		s.stop()
		return fmt.Errorf("error listening on %s: %w", s.addr, err)
	}

	s.listenMu.Lock()
	s.listener = l
	s.listenMu.Unlock()

	s.log.WithFields(logrus.Fields{
		"address": l.Addr().String(),
		"auth":    s.AuthEnabled(),
	}).Info("waiting for connections")

	s.acceptWG.Add(1)
	go s.acceptLoop(l)
	return nil
}

func (s *Server) acceptLoop(l net.Listener) {
	defer s.acceptWG.Done()
	defer s.log.Info("server no longer accepting connections")

	for {
		raw, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || !s.Active() {
				return
			}
			s.log.WithError(err).Warn("failed to accept connection")
			time.Sleep(50 * time.Millisecond)
			continue
		}
		go s.serve(raw)
	}
}

// Stop closes the listening socket and every connection, pending or
// authenticated, and fires SHUTDOWN. Stopping a stopped server does nothing.
func (s *Server) Stop() {
	if !s.stop() {
		return
	}

	s.listenMu.Lock()
	l := s.listener
	s.listener = nil
	s.listenMu.Unlock()
	if l != nil {
		_ = l.Close()
		s.acceptWG.Wait()
	}

	s.mu.Lock()
	conns := make([]*Connection, 0, len(s.pending)+len(s.named))
	for c := range s.pending {
		conns = append(conns, c)
	}
	for _, c := range s.named {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}

	s.hooks.fire(Shutdown, nil)
	s.log.Info("server stopped")
}

func (s *Server) connected(c *Connection) {
	s.mu.Lock()
	if !s.Active() {
		s.mu.Unlock()
		c.Close()
		return
	}
	s.pending[c] = s.schedule(s.opts.authTimeout, func() { s.authTimedOut(c) })
	s.mu.Unlock()

	s.hooks.fire(Connected, c)
}

func (s *Server) stages() []stage {
	return []stage{s.handleSystem, s.requireAuthenticated}
}

func (s *Server) handleSystem(c *Connection, msg *inbound) bool {
	if p, ok := msg.packet.(*packets.Authentication); ok {
		s.identify(c, p)
		return false
	}
	return true
}

// requireAuthenticated keeps application packets from pending connections away
// from listeners.
func (s *Server) requireAuthenticated(c *Connection, msg *inbound) bool {
	if packets.IsSystem(msg.info.ID) || c.Authenticated() {
		return true
	}
	c.log().WithField("packet", msg.info.Name).Warn("dropping packet from unauthenticated connection")
	return false
}

// identify runs the authentication state machine for an Authentication packet.
func (s *Server) identify(c *Connection, p *packets.Authentication) {
	if c.Authenticated() {
		c.log().Warn("ignoring authentication from an already authenticated connection")
		return
	}

	s.hooks.fire(Authentication, c)

	identity := packets.NormalizeIdentity(p.Identity)
	if identity == "" {
		s.rejectAuthentication(c, packets.Custom, invalidIdentityMessage)
		return
	}

	s.mu.Lock()
	cancelTimeout, pending := s.pending[c]
	if !pending {
		// Timed out or already rejected while this packet was in flight.
		s.mu.Unlock()
		return
	}
	if _, taken := s.named[identity]; taken {
		s.mu.Unlock()
		c.log().WithField("claimed", identity).Info("identity already in use")
		s.rejectAuthentication(c, packets.IdentityTaken, "")
		return
	}
	if s.AuthEnabled() && subtle.ConstantTimeCompare(s.opts.authToken, p.Token) != 1 {
		s.mu.Unlock()
		c.log().WithField("claimed", identity).Info("wrong auth token")
		s.rejectAuthentication(c, packets.AuthKeyWrong, "")
		return
	}

	cancelTimeout()
	delete(s.pending, c)
	c.markAuthenticated(identity)
	s.named[identity] = c
	s.mu.Unlock()

	s.metrics.connectionAuthenticated(s.side)
	c.log().Info("connection authenticated")
	s.hooks.fire(AuthenticationAccepted, c)

	if err := c.SendPacket(&packets.AuthenticationSuccess{}); err != nil {
		c.log().Warnf("failed to confirm authentication: %v", err)
	}
}

// rejectAuthentication removes c from the pending set and disconnects it.
func (s *Server) rejectAuthentication(c *Connection, reason packets.DisconnectReason, detail string) {
	s.mu.Lock()
	if cancelTimeout, ok := s.pending[c]; ok {
		cancelTimeout()
		delete(s.pending, c)
	}
	s.mu.Unlock()

	s.metrics.authFailed(reason)
	s.hooks.fire(AuthenticationFailed, c)

	if reason == packets.Custom {
		c.DisconnectWithMessage(detail)
	} else {
		c.Disconnect(reason)
	}
}

func (s *Server) authTimedOut(c *Connection) {
	s.mu.Lock()
	_, pending := s.pending[c]
	s.mu.Unlock()
	if !pending {
		return
	}

	c.log().WithField("timeout", s.opts.authTimeout).Info("connection failed to authenticate in time")
	s.rejectAuthentication(c, packets.AuthTimeout, "")
}

func (s *Server) disconnected(c *Connection) {
	s.mu.Lock()
	if cancelTimeout, ok := s.pending[c]; ok {
		cancelTimeout()
		delete(s.pending, c)
	}
	if named, ok := s.named[c.Name()]; ok && named == c {
		delete(s.named, c.Name())
	}
	s.mu.Unlock()

	s.hooks.fire(Disconnected, c)
}

// Broadcast sends p to every authenticated connection. Pending connections never
// receive broadcasts. The returned error joins every per-connection failure.
func (s *Server) Broadcast(p packets.Packet) error {
	var errs []error
	for _, c := range s.Connections() {
		if err := c.SendPacket(p); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// ConnectionExists reports whether an authenticated connection holds name.
func (s *Server) ConnectionExists(name string) bool {
	return s.Connection(name) != nil
}

// Connection returns the authenticated connection holding name, or nil.
func (s *Server) Connection(name string) *Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.named[packets.NormalizeIdentity(name)]
}

// Connections returns the authenticated connections ordered by name.
func (s *Server) Connections() []*Connection {
	s.mu.Lock()
	conns := make([]*Connection, 0, len(s.named))
	for _, c := range s.named {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	sort.Slice(conns, func(i, j int) bool { return conns[i].Name() < conns[j].Name() })
	return conns
}

// PendingCount returns the number of connections that haven't authenticated yet.
func (s *Server) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Addr returns the address the server is listening on, or nil when it isn't.
func (s *Server) Addr() net.Addr {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// AuthEnabled reports whether clients must present the configured token.
func (s *Server) AuthEnabled() bool {
	return len(s.opts.authToken) > 0
}
