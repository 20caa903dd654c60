package network

import (
	"context"
	"net"
	"sync"

	"github.com/dcrodman/parley/internal/packets"
)

// Client connects to a server, authenticates under its identity and, when
// reconnect is enabled, keeps trying to get back whenever the connection is lost
// or can't be established.
type Client struct {
	*instance
	addr     string
	identity string

	connMu sync.Mutex
	conn   *Connection
	dialMu sync.Mutex
	// cancelDial aborts a connection attempt in progress when the client stops.
	cancelDial context.CancelFunc
}

// NewClient configures a client that will connect to addr as identity once started.
func NewClient(addr, identity string, opts ...Option) (*Client, error) {
	c := &Client{addr: addr, identity: identity}

	in, err := newInstance(packets.SideClient, "client", buildOptions(opts), c)
	if err != nil {
		return nil, err
	}
	c.instance = in
	return c, nil
}

// StartClient is NewClient followed by Start.
func StartClient(addr, identity string, opts ...Option) (*Client, error) {
	c, err := NewClient(addr, identity, opts...)
	if err != nil {
		return nil, err
	}
	if err := c.Start(); err != nil {
		return nil, err
	}
	return c, nil
}

// Start begins connecting in the background. Progress is reported through hooks.
// Starting a running client logs a warning and does nothing.
func (c *Client) Start() error {
	if !c.start() {
		return nil
	}
	go c.dial()
	return nil
}

// Stop fires SHUTDOWN, then disconnects from the server and cancels any pending
// reconnection. Stopping a stopped client does nothing.
func (c *Client) Stop() {
	if !c.stop() {
		return
	}

	c.dialMu.Lock()
	if c.cancelDial != nil {
		c.cancelDial()
	}
	c.dialMu.Unlock()

	conn := c.Connection()
	c.hooks.fire(Shutdown, conn)
	if conn != nil {
		conn.Disconnect(packets.NoReason)
	}
	c.log.Info("client stopped")
}

func (c *Client) dial() {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.dialTimeout)
	defer cancel()

	c.dialMu.Lock()
	c.cancelDial = cancel
	c.dialMu.Unlock()

	if !c.Active() {
		return
	}

	c.log.WithField("address", c.addr).Info("connecting to server")
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		if !c.Active() {
			return
		}
		c.log.WithError(err).Warn("failed to connect to server")
		c.retry(nil)
		return
	}

	c.serve(raw)
}

// retry schedules the next connection attempt, or stops the client when
// reconnecting is disabled.
func (c *Client) retry(last *Connection) {
	if !c.Active() {
		return
	}
	if !c.opts.reconnect {
		c.log.Info("reconnect disabled, stopping client")
		c.Stop()
		return
	}

	c.metrics.reconnectScheduled()
	c.hooks.fire(Reconnect, last)
	c.log.Infof("reconnecting in %s", c.opts.retryDelay)
	c.schedule(c.opts.retryDelay, c.dial)
}

func (c *Client) connected(conn *Connection) {
	c.connMu.Lock()
	if !c.Active() {
		// Stop ran while dialing and won't see this connection.
		c.connMu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.connMu.Unlock()

	c.hooks.fire(Connected, conn)

	conn.log().WithField("auth", len(c.opts.authToken) > 0).Info("authenticating")
	c.hooks.fire(Authentication, conn)

	err := conn.SendPacket(&packets.Authentication{Identity: c.identity, Token: c.opts.authToken})
	if err != nil {
		conn.log().Errorf("failed to send authentication: %v", err)
		c.hooks.fire(AuthenticationFailed, conn)
		c.Stop()
	}
}

func (c *Client) stages() []stage {
	return []stage{c.handleSystem}
}

func (c *Client) handleSystem(conn *Connection, msg *inbound) bool {
	if _, ok := msg.packet.(*packets.AuthenticationSuccess); !ok {
		return true
	}

	if conn.markAuthenticated(packets.NormalizeIdentity(c.identity)) {
		c.metrics.connectionAuthenticated(c.side)
		conn.log().Info("authenticated with server")
		c.hooks.fire(AuthenticationAccepted, conn)
	}
	return false
}

func (c *Client) disconnected(conn *Connection) {
	c.connMu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.connMu.Unlock()

	c.hooks.fire(Disconnected, conn)
	c.retry(conn)
}

// Connection returns the live connection, or nil between connections.
func (c *Client) Connection() *Connection {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

// SendPacket sends p over the live connection.
func (c *Client) SendPacket(p packets.Packet) error {
	conn := c.Connection()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.SendPacket(p)
}

// Disconnect ends the current connection. The client reconnects afterwards when
// reconnect is enabled.
func (c *Client) Disconnect() {
	if conn := c.Connection(); conn != nil {
		conn.Disconnect(packets.NoReason)
	}
}

// Authenticated reports whether the live connection has been accepted by the server.
func (c *Client) Authenticated() bool {
	conn := c.Connection()
	return conn != nil && conn.Authenticated()
}

func (c *Client) Identity() string { return c.identity }
func (c *Client) Addr() string     { return c.addr }
