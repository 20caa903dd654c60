package network

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dcrodman/parley/internal/packets"
)

// errDisconnectSent ends a connection's write loop once a Disconnect has been flushed.
var errDisconnectSent = errors.New("network: disconnect sent")

type outbound struct {
	frame      []byte
	packet     packets.Packet
	closeAfter bool
}

// Connection is one live socket, owned by a client or a server. Frames read from
// it are decoded and dispatched one at a time in arrival order; frames sent over
// it are queued and written by a dedicated goroutine.
type Connection struct {
	raw       net.Conn
	reader    *bufio.Reader
	owner     *instance
	stages    pipeline
	createdAt time.Time

	mu            sync.Mutex
	name          string
	authenticated bool
	reason        packets.DisconnectReason
	detail        string
	entry         *logrus.Entry

	send    chan outbound
	closing atomic.Bool
	closed  atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func newConnection(owner *instance, raw net.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		raw:       raw,
		reader:    bufio.NewReader(raw),
		owner:     owner,
		createdAt: time.Now(),
		name:      packets.AnonymousName,
		reason:    packets.NoReason,
		send:      make(chan outbound, owner.opts.sendBuffer),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	c.entry = owner.log.WithFields(logrus.Fields{
		"conn":     raw.RemoteAddr().String(),
		"identity": packets.AnonymousName,
	})
	c.stages = owner.buildPipeline()
	return c
}

// run starts the read and write loops and blocks until both have stopped. The
// socket is closed before run returns.
func (c *Connection) run() error {
	group, ctx := errgroup.WithContext(c.ctx)

	group.Go(func() error {
		return c.readLoop(ctx)
	})

	group.Go(func() error {
		return c.writeLoop(ctx)
	})

	// Closing the socket is what unblocks a read in progress.
	group.Go(func() error {
		<-ctx.Done()
		_ = c.raw.Close()
		return nil
	})

	err := group.Wait()
	c.closed.Store(true)
	c.cancel()
	close(c.done)
	return err
}

func (c *Connection) readLoop(ctx context.Context) error {
	maxLength := c.owner.codec.MaxFrameLength()
	for {
		frame, err := ReadFrame(c.reader, maxLength)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if len(frame) == 0 {
			continue
		}
		if err := c.receive(frame); err != nil {
			return err
		}
	}
}

func (c *Connection) receive(frame []byte) error {
	p, info, err := c.owner.codec.Decode(frame)
	if err != nil {
		c.owner.metrics.decodeFailed(c.Side())
		c.log().WithFields(logrus.Fields{
			"packet": info.Name,
			"id":     int8(info.ID),
			"size":   len(frame),
		}).Warnf("dropping connection after undecodable frame: %v", err)
		return err
	}

	c.owner.metrics.packetReceived(c.Side(), info.Name, len(frame))
	c.stages.run(c, &inbound{packet: p, info: info, size: len(frame)})
	return nil
}

func (c *Connection) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out := <-c.send:
			if _, err := c.raw.Write(out.frame); err != nil {
				return fmt.Errorf("write %s: %w", c.packetName(out.packet), err)
			}
			size := len(out.frame) - LengthPrefixSize
			c.owner.metrics.packetSent(c.Side(), c.packetName(out.packet), size)
			c.owner.tracePacket(c, "sent", out.packet, size)
			if out.closeAfter {
				return errDisconnectSent
			}
		}
	}
}

// SendPacket encodes p and queues it for sending. It fails when the connection is
// closed or disconnecting, when p may not be sent from this side, when p can't be
// encoded, and when the send queue is full. The caller decides whether to retry.
func (c *Connection) SendPacket(p packets.Packet) error {
	if p == nil {
		return errors.New("network: nil packet")
	}
	name := c.packetName(p)
	if c.closing.Load() || c.closed.Load() {
		return fmt.Errorf("%w: can't send %s", ErrConnectionClosed, name)
	}
	if rule := packets.RuleOf(p); !rule.Allows(c.Side()) {
		return fmt.Errorf("%w: %s is %s only", ErrSendRule, name, rule)
	}

	frame, err := c.owner.codec.encode(p, c)
	if err != nil {
		c.log().WithField("packet", name).Errorf("failed to encode packet: %v", err)
		return err
	}

	select {
	case c.send <- outbound{frame: frame, packet: p}:
		return nil
	default:
		c.owner.codec.release(p)
		return fmt.Errorf("%w: send queue full, dropped %s", ErrNotWritable, name)
	}
}

// Disconnect tells the peer why the connection is ending, then closes it once the
// message has been written. Only the first call has any effect.
func (c *Connection) Disconnect(reason packets.DisconnectReason) {
	c.disconnect(packets.NewDisconnect(reason))
}

// DisconnectWithMessage disconnects with the CUSTOM reason and a free text message.
func (c *Connection) DisconnectWithMessage(msg string) {
	c.disconnect(packets.NewCustomDisconnect(msg))
}

func (c *Connection) disconnect(p *packets.Disconnect) {
	if c.closed.Load() || c.closing.Swap(true) {
		return
	}
	c.setDisconnectReason(p.Reason, p.Detail)

	frame, err := c.owner.codec.encode(p, c)
	if err != nil {
		c.log().Errorf("failed to encode disconnect, closing without it: %v", err)
		c.Close()
		return
	}

	select {
	case c.send <- outbound{frame: frame, packet: p, closeAfter: true}:
	default:
		c.log().Warn("send queue full, closing without disconnect message")
		c.Close()
	}
}

// Close closes the connection immediately without notifying the peer.
func (c *Connection) Close() {
	c.closing.Store(true)
	c.cancel()
}

// Done is closed once the connection's loops have stopped and its socket is closed.
func (c *Connection) Done() <-chan struct{} { return c.done }

func (c *Connection) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

func (c *Connection) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// DisconnectReason returns why the connection ended, as sent or received in the
// last Disconnect. Detail is only set for CUSTOM.
func (c *Connection) DisconnectReason() (packets.DisconnectReason, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason, c.detail
}

func (c *Connection) CreatedAt() time.Time { return c.createdAt }
func (c *Connection) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }
func (c *Connection) LocalAddr() net.Addr  { return c.raw.LocalAddr() }
func (c *Connection) Side() packets.Side   { return c.owner.side }
func (c *Connection) Closed() bool         { return c.closed.Load() }

func (c *Connection) String() string {
	if c == nil {
		return "<none>"
	}
	return fmt.Sprintf("%s (%s)", c.Name(), c.raw.RemoteAddr())
}

// markAuthenticated moves the connection to its authenticated state under name.
// It reports false if the connection had already authenticated.
func (c *Connection) markAuthenticated(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.authenticated {
		return false
	}
	c.authenticated = true
	c.name = name
	c.entry = c.entry.WithField("identity", name)
	return true
}

func (c *Connection) setDisconnectReason(reason packets.DisconnectReason, detail string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reason, c.detail = reason, detail
}

func (c *Connection) log() *logrus.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entry
}

func (c *Connection) packetName(p packets.Packet) string {
	return c.owner.registry.NameOf(p)
}
