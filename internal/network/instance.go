// Package network runs the frame protocol over TCP. A Server accepts connections
// and requires each one to authenticate within a deadline before any application
// packet is dispatched; a Client connects outward, authenticates and optionally
// reconnects whenever its connection is lost. Both share the lifecycle, hooks,
// listeners and request correlation implemented by instance.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"

	"github.com/dcrodman/parley/internal/packets"
)

// role is the part of an instance that differs between clients and servers.
type role interface {
	// connected runs once per connection before its loops start.
	connected(c *Connection)
	// stages returns the role specific inbound stages, run after the system
	// packets common to both roles have been handled.
	stages() []stage
	// disconnected runs once the connection's socket has closed.
	disconnected(c *Connection)
}

// instance is the state shared by Client and Server.
type instance struct {
	side      packets.Side
	opts      options
	log       *logrus.Entry
	registry  *packets.Registry
	codec     *Codec
	hooks     *hookTable
	listeners *listenerSet
	responses *responseTable
	metrics   *Metrics
	role      role

	mu     sync.Mutex
	active bool
	timers map[*time.Timer]struct{}
}

func newInstance(side packets.Side, name string, opts options, r role) (*instance, error) {
	registry, err := packets.NewRegistry(opts.infos...)
	if err != nil {
		return nil, fmt.Errorf("invalid packet registrations: %w", err)
	}

	in := &instance{
		side:      side,
		opts:      opts,
		log:       opts.logger.WithField("instance", name),
		registry:  registry,
		listeners: &listenerSet{},
		metrics:   opts.metrics,
		role:      r,
	}
	in.hooks = newHookTable(in.log)
	in.responses = newResponseTable(opts.responseTimeout, in.responseExpired)
	in.codec = newCodec(registry, in.responses, opts.maxFrameLength)

	for _, h := range opts.hooks {
		in.hooks.register(h.t, h.fn)
	}
	return in, nil
}

// start marks the instance active. It reports false, after logging a warning,
// when the instance was already running.
func (in *instance) start() bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.active {
		in.log.Warn("start called on an instance that is already active")
		return false
	}
	in.active = true
	in.timers = make(map[*time.Timer]struct{})
	return true
}

// stop marks the instance inactive and cancels its scheduled work. It reports
// false when the instance wasn't running.
func (in *instance) stop() bool {
	in.mu.Lock()
	if !in.active {
		in.mu.Unlock()
		return false
	}
	in.active = false
	for t := range in.timers {
		t.Stop()
	}
	in.timers = nil
	in.mu.Unlock()

	in.responses.flush()
	return true
}

// Active reports whether the instance has been started and not stopped since.
func (in *instance) Active() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.active
}

// schedule runs fn after d unless the instance stops or the returned cancel
// function is called first.
func (in *instance) schedule(d time.Duration, fn func()) (cancel func()) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if !in.active {
		return func() {}
	}

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		in.mu.Lock()
		_, pending := in.timers[t]
		delete(in.timers, t)
		in.mu.Unlock()

		if pending {
			fn()
		}
	})
	in.timers[t] = struct{}{}

	return func() {
		in.mu.Lock()
		delete(in.timers, t)
		in.mu.Unlock()
		t.Stop()
	}
}

// serve runs a newly established connection until it closes.
func (in *instance) serve(raw net.Conn) {
	if !in.Active() {
		_ = raw.Close()
		return
	}
	c := newConnection(in, raw)

	in.metrics.connectionOpened(in.side)
	c.log().Info("connection established")

	in.role.connected(c)
	err := c.run()
	wasAuthenticated := c.Authenticated()

	if isClosedError(err) {
		c.log().Info("connection closed")
	} else {
		c.log().WithError(err).Warn("connection closed with error")
	}

	in.role.disconnected(c)
	in.metrics.connectionClosed(in.side, wasAuthenticated)
}

func isClosedError(err error) bool {
	return err == nil ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, errDisconnectSent)
}

func (in *instance) responseExpired(id uint8) {
	in.metrics.responseExpired(in.side)
	in.log.WithField("correlation_id", id).Warn("request expired without a response")
}

func (in *instance) tracePacket(c *Connection, direction string, p packets.Packet, size int) {
	if !in.opts.packetLogging {
		return
	}
	entry := c.log().WithFields(logrus.Fields{
		"packet": c.packetName(p),
		"size":   size,
	})
	entry.Debugf("%s packet", direction)
	if entry.Logger.IsLevelEnabled(logrus.TraceLevel) {
		entry.Trace(spew.Sdump(p))
	}
}

// RegisterHook subscribes fn to hooks of type t.
func (in *instance) RegisterHook(t HookType, fn HookFunc) HookID {
	return in.hooks.register(t, fn)
}

// UnregisterHook removes a hook. It's safe to call from inside a hook.
func (in *instance) UnregisterHook(t HookType, id HookID) bool {
	return in.hooks.unregister(t, id)
}

// Subscribe calls fn for every received packet whose type matches one of types.
// Types are given as sample values, e.g. new(chat.Say).
func (in *instance) Subscribe(fn PacketHandler, types ...packets.Packet) *Listener {
	return in.listeners.add(&Listener{kind: plainHandler, types: typeSet(types), plain: fn})
}

// SubscribeRespondable answers requests of the given types with fn.
func (in *instance) SubscribeRespondable(fn ResponseHandler, types ...packets.Respondable) *Listener {
	return in.listeners.add(&Listener{kind: responseHandler, types: typeSet(types), respond: fn})
}

// Unsubscribe removes a listener returned by Subscribe or SubscribeRespondable.
func (in *instance) Unsubscribe(l *Listener) bool {
	return in.listeners.remove(l)
}

// Registry returns the packets this instance can encode and decode.
func (in *instance) Registry() *packets.Registry {
	return in.registry
}
