package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/parley/internal/network"
	"github.com/dcrodman/parley/internal/packets"
)

const (
	storeTimeout = 5 * time.Second
	// writeQueueSize bounds the messages waiting to be stored.
	writeQueueSize = 256
)

// Service runs a single chat room on top of a server: it relays Say packets to
// every authenticated connection, answers History requests and announces members
// joining and leaving. Packet handlers never touch the database. Recent messages
// are kept in memory and new ones are written to the store by a single worker.
type Service struct {
	server      *network.Server
	store       *Store
	historySize int
	log         logrus.FieldLogger
	now         func() time.Time

	mu       sync.Mutex
	recent   []Message
	writes   chan Message
	detached bool
	done     chan struct{}

	listeners []*network.Listener
	joinHook  network.HookID
	leaveHook network.HookID
}

// NewService attaches a chat room to server, seeding its history from store. The
// server must have been built with the chat Packets.
func NewService(server *network.Server, store *Store, historySize int, logger logrus.FieldLogger) (*Service, error) {
	if historySize > MaxHistory {
		historySize = MaxHistory
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	recent, err := store.Recent(ctx, historySize)
	if err != nil {
		return nil, fmt.Errorf("loading chat history: %w", err)
	}

	s := &Service{
		server:      server,
		store:       store,
		historySize: historySize,
		log:         logger.WithField("component", "chat"),
		now:         time.Now,
		recent:      recent,
		writes:      make(chan Message, writeQueueSize),
		done:        make(chan struct{}),
	}
	go s.persist()

	s.listeners = []*network.Listener{
		server.Subscribe(s.say, &Say{}),
		server.SubscribeRespondable(s.history, &History{}),
	}
	s.joinHook = server.RegisterHook(network.AuthenticationAccepted, s.joined)
	s.leaveHook = server.RegisterHook(network.Disconnected, s.left)
	return s, nil
}

// Detach removes the room from the server and waits for queued messages to be
// stored.
func (s *Service) Detach() {
	for _, l := range s.listeners {
		s.server.Unsubscribe(l)
	}
	s.server.UnregisterHook(network.AuthenticationAccepted, s.joinHook)
	s.server.UnregisterHook(network.Disconnected, s.leaveHook)

	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()
		return
	}
	s.detached = true
	close(s.writes)
	s.mu.Unlock()
	<-s.done
}

// persist writes queued messages to the store in the order they were said.
func (s *Service) persist() {
	defer close(s.done)
	for m := range s.writes {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		if err := s.store.Append(ctx, m); err != nil {
			s.log.WithField("author", m.From).Errorf("failed to store message: %v", err)
		}
		cancel()
	}
}

func (s *Service) say(c *network.Connection, p packets.Packet) {
	text := strings.TrimSpace(p.(*Say).Text)
	if text == "" {
		return
	}
	m := Message{From: c.Name(), Text: text, SentAt: s.timestamp()}

	s.mu.Lock()
	s.remember(m)
	if !s.detached {
		select {
		case s.writes <- m:
		default:
			s.log.WithField("author", m.From).Warn("store is falling behind, message won't be kept")
		}
	}
	s.mu.Unlock()

	s.broadcast(&m)
}

// remember adds m to the in-memory history. The caller holds mu.
func (s *Service) remember(m Message) {
	if s.historySize <= 0 {
		return
	}
	s.recent = append(s.recent, m)
	if extra := len(s.recent) - s.historySize; extra > 0 {
		s.recent = append(s.recent[:0], s.recent[extra:]...)
	}
}

func (s *Service) history(_ *network.Connection, request packets.Respondable) error {
	h := request.(*History)
	limit := s.historySize
	if h.Req.Limit > 0 {
		limit = min(int(h.Req.Limit), s.historySize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		return nil
	}
	from := max(len(s.recent)-limit, 0)
	h.Resp.Messages = append([]Message(nil), s.recent[from:]...)
	return nil
}

func (s *Service) joined(c *network.Connection) {
	s.broadcast(&Message{Text: c.Name() + " joined", SentAt: s.timestamp()})
}

func (s *Service) left(c *network.Connection) {
	if !c.Authenticated() {
		return
	}
	s.broadcast(&Message{Text: c.Name() + " left", SentAt: s.timestamp()})
}

func (s *Service) broadcast(m *Message) {
	if err := s.server.Broadcast(m); err != nil {
		s.log.Warnf("failed to deliver message to some members: %v", err)
	}
}

// timestamp is truncated to the precision carried on the wire.
func (s *Service) timestamp() time.Time {
	return s.now().Truncate(time.Millisecond)
}
