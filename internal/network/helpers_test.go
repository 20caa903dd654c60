package network

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/parley/internal/core/bytes"
	"github.com/dcrodman/parley/internal/packets"
)

// ping may be sent by either side.
type ping struct {
	Seq  uint32
	Note string
}

func (p *ping) EncodePayload(w *bytes.Writer) error {
	w.PutUint32(p.Seq)
	return w.WriteString(p.Note)
}

func (p *ping) DecodePayload(r *bytes.Reader) (err error) {
	if p.Seq, err = r.Uint32(); err != nil {
		return err
	}
	p.Note, err = r.ReadString()
	return err
}

// shout may only be sent by a server.
type shout struct{ Text string }

func (*shout) SendRule() packets.SendRule { return packets.SendServer }

func (p *shout) EncodePayload(w *bytes.Writer) error { return w.WriteString(p.Text) }
func (p *shout) DecodePayload(r *bytes.Reader) (err error) {
	p.Text, err = r.ReadString()
	return err
}

type lookupRequest struct{ Key string }

func (p *lookupRequest) EncodePayload(w *bytes.Writer) error { return w.WriteString(p.Key) }
func (p *lookupRequest) DecodePayload(r *bytes.Reader) (err error) {
	p.Key, err = r.ReadString()
	return err
}

type lookupResponse struct {
	Found bool
	Value []byte
}

func (p *lookupResponse) EncodePayload(w *bytes.Writer) error {
	w.PutBool(p.Found)
	return w.WriteVarBytes(p.Value)
}

func (p *lookupResponse) DecodePayload(r *bytes.Reader) (err error) {
	if p.Found, err = r.Bool(); err != nil {
		return err
	}
	p.Value, err = r.ReadVarBytes()
	return err
}

// lookup is a respondable request for a key.
type lookup struct {
	packets.Exchange
	Req  lookupRequest
	Resp lookupResponse
}

func (p *lookup) Request() packets.Payload            { return &p.Req }
func (p *lookup) Response() packets.Payload           { return &p.Resp }
func (p *lookup) EncodePayload(w *bytes.Writer) error { return packets.EncodeExchange(p, w) }
func (p *lookup) DecodePayload(r *bytes.Reader) error { return packets.DecodeExchange(p, r) }

const (
	pingID   = 1
	shoutID  = 2
	lookupID = 3
)

func testPacketInfos() []packets.Info {
	return []packets.Info{
		packets.Plain(pingID, func() packets.Packet { return new(ping) }),
		packets.Plain(shoutID, func() packets.Packet { return new(shout) }),
		packets.Exchanged(lookupID, func() packets.Respondable { return new(lookup) }),
	}
}

func testRegistry(t *testing.T) *packets.Registry {
	t.Helper()
	r, err := packets.NewRegistry(testPacketInfos()...)
	if err != nil {
		t.Fatalf("NewRegistry() returned an unexpected error: %v", err)
	}
	return r
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func baseOptions(opts []Option) []Option {
	return append([]Option{WithLogger(quietLogger()), WithPackets(testPacketInfos()...)}, opts...)
}

func startTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	s, err := StartServer("127.0.0.1:0", baseOptions(opts)...)
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(s.Stop)
	return s
}

// newTestClient returns a client that hasn't been started yet.
func newTestClient(t *testing.T, addr, identity string, opts ...Option) *Client {
	t.Helper()
	c, err := NewClient(addr, identity, baseOptions(opts)...)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(c.Stop)
	return c
}

func startTestClient(t *testing.T, addr, identity string, opts ...Option) *Client {
	t.Helper()
	c := newTestClient(t, addr, identity, opts...)
	if err := c.Start(); err != nil {
		t.Fatalf("failed to start client: %v", err)
	}
	return c
}

// eventually polls cond until it holds or the deadline passes.
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

// hookRecorder counts every hook fired on an instance.
type hookRecorder struct {
	mu     sync.Mutex
	counts map[HookType]int
	last   map[HookType]*Connection
}

func newHookRecorder() *hookRecorder {
	return &hookRecorder{counts: make(map[HookType]int), last: make(map[HookType]*Connection)}
}

func (r *hookRecorder) options() []Option {
	var opts []Option
	for t := Connected; t <= AuthenticationFailed; t++ {
		t := t
		opts = append(opts, WithHook(t, func(c *Connection) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.counts[t]++
			r.last[t] = c
		}))
	}
	return opts
}

func (r *hookRecorder) count(t HookType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[t]
}

func (r *hookRecorder) lastConn(t HookType) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last[t]
}

// rawPeer is a bare TCP connection speaking the frame protocol by hand.
type rawPeer struct {
	t     *testing.T
	conn  net.Conn
	codec *Codec
}

func dialRaw(t *testing.T, addr net.Addr) *rawPeer {
	t.Helper()
	conn, err := net.Dial(addr.Network(), addr.String())
	if err != nil {
		t.Fatalf("failed to connect to %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &rawPeer{t: t, conn: conn, codec: NewCodec(testRegistry(t), 0)}
}

func (p *rawPeer) send(packet packets.Packet) {
	p.t.Helper()
	frame, err := p.codec.Encode(packet)
	if err != nil {
		p.t.Fatalf("failed to encode %T: %v", packet, err)
	}
	if _, err := p.conn.Write(frame); err != nil {
		p.t.Fatalf("failed to write %T: %v", packet, err)
	}
}

// authenticate completes the handshake as identity.
func (p *rawPeer) authenticate(identity string) {
	p.t.Helper()
	p.send(&packets.Authentication{Identity: identity})
	if got, ok := p.next().(*packets.AuthenticationSuccess); !ok {
		p.t.Fatalf("expected AuthenticationSuccess for %s, got %T", identity, got)
	}
}

// next reads the next packet, failing the test if none arrives in time.
func (p *rawPeer) next() packets.Packet {
	p.t.Helper()
	_ = p.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	frame, err := ReadFrame(p.conn, DefaultMaxFrameLength)
	if err != nil {
		p.t.Fatalf("failed to read frame: %v", err)
	}
	packet, _, err := p.codec.Decode(frame)
	if err != nil {
		p.t.Fatalf("failed to decode frame: %v", err)
	}
	return packet
}

// quiet reports whether nothing arrives within d.
func (p *rawPeer) quiet(d time.Duration) bool {
	_ = p.conn.SetReadDeadline(time.Now().Add(d))
	_, err := ReadFrame(p.conn, DefaultMaxFrameLength)
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
