package network

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/parley/internal/packets"
)

const (
	DefaultAuthTimeout     = time.Second
	DefaultRetryDelay      = 5 * time.Second
	DefaultDialTimeout     = 5 * time.Second
	DefaultResponseTimeout = 30 * time.Second
	DefaultSendBuffer      = 128
)

type hookRegistration struct {
	t  HookType
	fn HookFunc
}

// options holds the configuration shared by clients and servers. Settings that
// only apply to one role are ignored by the other.
type options struct {
	logger        logrus.FieldLogger
	infos         []packets.Info
	hooks         []hookRegistration
	metrics       *Metrics
	packetLogging bool

	authToken []byte

	reconnect   bool
	retryDelay  time.Duration
	dialTimeout time.Duration

	authTimeout     time.Duration
	responseTimeout time.Duration
	maxFrameLength  int
	sendBuffer      int
}

// Option configures a client or server.
type Option func(*options)

func defaultOptions() options {
	return options{
		logger:          logrus.StandardLogger(),
		retryDelay:      DefaultRetryDelay,
		dialTimeout:     DefaultDialTimeout,
		authTimeout:     DefaultAuthTimeout,
		responseTimeout: DefaultResponseTimeout,
		maxFrameLength:  DefaultMaxFrameLength,
		sendBuffer:      DefaultSendBuffer,
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logrus.StandardLogger()
	}
	if o.maxFrameLength <= 0 {
		o.maxFrameLength = DefaultMaxFrameLength
	}
	if o.sendBuffer <= 0 {
		o.sendBuffer = 1
	}
	if o.authTimeout <= 0 {
		o.authTimeout = DefaultAuthTimeout
	}
	if o.retryDelay < 0 {
		o.retryDelay = 0
	}
	return o
}

// WithLogger sets the logger every log entry of the instance is derived from.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *options) { o.logger = logger }
}

// WithPackets registers application packets. The system packets are always
// registered.
func WithPackets(infos ...packets.Info) Option {
	return func(o *options) { o.infos = append(o.infos, infos...) }
}

// WithHook registers fn for t before the instance starts.
func WithHook(t HookType, fn HookFunc) Option {
	return func(o *options) { o.hooks = append(o.hooks, hookRegistration{t: t, fn: fn}) }
}

// WithAuthToken sets the token a client presents, or the token a server requires.
// A server with no token accepts any client.
func WithAuthToken(token []byte) Option {
	return func(o *options) { o.authToken = token }
}

// WithReconnect makes a client reconnect after losing or failing to establish
// its connection.
func WithReconnect(enabled bool) Option {
	return func(o *options) { o.reconnect = enabled }
}

// WithRetryDelay sets the fixed delay between reconnection attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) { o.retryDelay = d }
}

// WithDialTimeout bounds each client connection attempt.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.dialTimeout = d }
}

// WithAuthTimeout sets how long a server waits for a new connection to authenticate.
func WithAuthTimeout(d time.Duration) Option {
	return func(o *options) { o.authTimeout = d }
}

// WithResponseTimeout sets how long a request waits for its reply before its
// correlation id is freed. Zero or less disables expiry.
func WithResponseTimeout(d time.Duration) Option {
	return func(o *options) { o.responseTimeout = d }
}

// WithMaxFrameLength caps the size of frames read and written.
func WithMaxFrameLength(n int) Option {
	return func(o *options) { o.maxFrameLength = n }
}

// WithSendBuffer sets how many frames may wait in a connection's send queue.
func WithSendBuffer(n int) Option {
	return func(o *options) { o.sendBuffer = n }
}

// WithMetrics records the instance's activity in m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithPacketLogging logs every frame sent and received at debug level, and the
// decoded packet at trace level.
func WithPacketLogging(enabled bool) Option {
	return func(o *options) { o.packetLogging = enabled }
}
