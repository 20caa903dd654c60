package chat

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/parley/internal/core"
	"github.com/dcrodman/parley/internal/network"
	"github.com/dcrodman/parley/internal/packets"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func setUpStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(core.DatabaseConfig{
		Engine:   "sqlite",
		Filename: filepath.Join(t.TempDir(), "chat.db"),
	}, false)
	if err != nil {
		t.Fatalf("error initializing test database: %s", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedMessages(t *testing.T, store *Store, n int) []Message {
	t.Helper()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var messages []Message
	for i := 0; i < n; i++ {
		m := Message{
			From:   "seed",
			Text:   string(rune('a' + i)),
			SentAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.Append(context.Background(), m); err != nil {
			t.Fatalf("error seeding message: %v", err)
		}
		messages = append(messages, m)
	}
	return messages
}

// startRoom starts a server with a chat service attached.
func startRoom(t *testing.T, store *Store, historySize int) *network.Server {
	t.Helper()
	s, err := network.NewServer("127.0.0.1:0",
		network.WithLogger(quietLogger()),
		network.WithPackets(Packets()...),
	)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	svc, err := NewService(s, store, historySize, quietLogger())
	if err != nil {
		t.Fatalf("failed to attach chat service: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() {
		s.Stop()
		svc.Detach()
	})
	return s
}

// newMember returns a client for the room that hasn't been started yet.
func newMember(t *testing.T, s *network.Server, identity string) *network.Client {
	t.Helper()
	c, err := network.NewClient(s.Addr().String(), identity,
		network.WithLogger(quietLogger()),
		network.WithPackets(Packets()...),
		network.WithReconnect(false),
	)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(c.Stop)
	return c
}

func start(t *testing.T, c *network.Client) {
	t.Helper()
	if err := c.Start(); err != nil {
		t.Fatalf("failed to start client: %v", err)
	}
	eventually(t, c.Identity()+" to authenticate", c.Authenticated)
}

// inbox collects the Messages a client receives.
type inbox struct {
	mu       sync.Mutex
	messages []Message
}

func joinRoom(t *testing.T, s *network.Server, identity string) (*network.Client, *inbox) {
	t.Helper()
	c := newMember(t, s, identity)
	in := &inbox{}
	c.Subscribe(func(_ *network.Connection, p packets.Packet) {
		in.mu.Lock()
		defer in.mu.Unlock()
		in.messages = append(in.messages, *p.(*Message))
	}, &Message{})
	start(t, c)
	return c, in
}

// has reports whether a message with this author and text arrived.
func (in *inbox) has(from, text string) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	for _, m := range in.messages {
		if m.From == from && m.Text == text {
			return true
		}
	}
	return false
}

func (in *inbox) said() []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	var lines []string
	for _, m := range in.messages {
		if !m.Announcement() {
			lines = append(lines, m.From+": "+m.Text)
		}
	}
	return lines
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// syncBuffer is a bytes.Buffer safe to write from listener goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
