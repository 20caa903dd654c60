package chat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/dcrodman/parley/internal/network"
	"github.com/dcrodman/parley/internal/packets"
)

const (
	defaultHistoryLimit = 10
	timeFormat          = "15:04:05"
)

// Console is the line-oriented client front end of the room.
type Console struct {
	client *network.Client
	in     io.Reader

	mu  sync.Mutex
	out io.Writer

	listener *network.Listener
}

// NewConsole prints every Message the client receives to out. Run reads the
// user's input.
func NewConsole(client *network.Client, in io.Reader, out io.Writer) *Console {
	c := &Console{client: client, in: in, out: out}
	c.listener = client.Subscribe(func(_ *network.Connection, p packets.Packet) {
		c.printMessage(p.(*Message))
	}, &Message{})
	return c
}

// Run handles input lines until in is exhausted, the user enters /quit or ctx
// is cancelled.
func (c *Console) Run(ctx context.Context) error {
	defer c.client.Unsubscribe(c.listener)

	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if quit := c.handle(scanner.Text()); quit {
			return nil
		}
	}
	return scanner.Err()
}

func (c *Console) handle(line string) (quit bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	if !strings.HasPrefix(line, "/") {
		c.send(&Say{Text: line})
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit":
		return true
	case "/history":
		limit := defaultHistoryLimit
		if len(fields) > 1 {
			n, err := strconv.Atoi(fields[1])
			if err != nil || n < 1 || n > MaxHistory {
				c.printf("usage: /history [1-%d]\n", MaxHistory)
				return false
			}
			limit = n
		}
		c.requestHistory(limit)
	default:
		c.printf("unknown command %s\n", fields[0])
	}
	return false
}

func (c *Console) requestHistory(limit int) {
	h := &History{Req: HistoryRequest{Limit: uint8(limit)}}
	h.OnResponse(func(reply packets.Respondable) {
		messages := reply.(*History).Resp.Messages
		if len(messages) == 0 {
			c.printf("no messages\n")
			return
		}
		for i := range messages {
			c.printMessage(&messages[i])
		}
	})
	c.send(h)
}

func (c *Console) send(p packets.Packet) {
	if err := c.client.SendPacket(p); err != nil {
		c.printf("error: %v\n", err)
	}
}

func (c *Console) printMessage(m *Message) {
	ts := m.SentAt.Format(timeFormat)
	if m.Announcement() {
		c.printf("[%s] * %s\n", ts, m.Text)
		return
	}
	c.printf("[%s] %s: %s\n", ts, m.From, m.Text)
}

func (c *Console) printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}
