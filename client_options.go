package mqttv3

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// BackoffStrategy picks the wait before reconnect attempt number attempt
// (1-based), given the previous wait and the error that ended the last try.
type BackoffStrategy func(attempt int, currentBackoff time.Duration, err error) time.Duration

// ServerResolver supplies broker URIs ("tcp://broker:1883") before every
// connection attempt. An error or an empty list falls back to WithServers.
type ServerResolver func(ctx context.Context) ([]string, error)

// DialFunc opens the byte stream to address, one of the server URIs.
type DialFunc func(ctx context.Context, address string) (net.Conn, error)

// MessageHandler receives delivered messages on the read goroutine, in
// arrival order. A handler that blocks stalls the connection.
type MessageHandler func(client *Client, msg *Message)

// ConnectResult describes an accepted connection.
type ConnectResult struct {
	SessionPresent bool
	Server         string
}

type clientOptions struct {
	clientID     string
	username     *string
	password     []byte
	keepAlive    uint16
	cleanSession bool
	will         *Message

	tlsConfig      *tls.Config
	connectTimeout time.Duration
	writeTimeout   time.Duration
	pingTimeout    time.Duration

	autoReconnect    bool
	maxReconnects    int
	reconnectBackoff time.Duration
	maxBackoff       time.Duration
	backoffStrategy  BackoffStrategy

	maxPacketSize uint32
	maxInflight   uint16
	publishLimit  *rate.Limiter
	retryPolicy   RetryPolicy
	clock         Clock

	onEvent        EventHandler
	onConnected    func(*Client, ConnectResult)
	onMessage      MessageHandler
	onDisconnected func(*Client, error)

	producerInterceptors []ProducerInterceptor
	consumerInterceptors []ConsumerInterceptor

	logger         Logger
	metrics        Metrics
	tracerProvider trace.TracerProvider

	dialer         DialFunc
	proxyConfig    *ProxyConfig
	proxyFromEnv   bool
	servers        []string
	serverResolver ServerResolver
}

// Option configures a Client.
type Option func(*clientOptions)

func newClientOptions(opts ...Option) *clientOptions {
	o := &clientOptions{
		keepAlive:        60,
		cleanSession:     true,
		connectTimeout:   10 * time.Second,
		writeTimeout:     5 * time.Second,
		maxReconnects:    10,
		reconnectBackoff: time.Second,
		maxBackoff:       time.Minute,
		maxPacketSize:    DefaultMaxPacketSize,
		maxInflight:      DefaultMaxInflight,
		retryPolicy:      DefaultRetryPolicy(),
		clock:            RealClock(),
		logger:           NewNoOpLogger(),
		metrics:          &NoOpMetrics{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithClientID sets the client identifier. Left empty, a clean-session
// client generates one.
func WithClientID(id string) Option {
	return func(o *clientOptions) { o.clientID = id }
}

func WithCredentials(username, password string) Option {
	return func(o *clientOptions) {
		o.username = &username
		o.password = []byte(password)
	}
}

// WithUsername authenticates with a username only and clears any password.
// An empty username is still sent.
func WithUsername(username string) Option {
	return func(o *clientOptions) {
		o.username = &username
		o.password = nil
	}
}

// WithKeepAlive sets the keep-alive in seconds; 0 turns pinging off.
func WithKeepAlive(seconds uint16) Option {
	return func(o *clientOptions) { o.keepAlive = seconds }
}

func WithCleanSession(clean bool) Option {
	return func(o *clientOptions) { o.cleanSession = clean }
}

// WithWill registers the message the broker publishes when the connection
// drops without a DISCONNECT.
func WithWill(topic string, payload []byte, retain bool, qos QoS) Option {
	return func(o *clientOptions) {
		o.will = &Message{Topic: topic, Payload: payload, Retain: retain, QoS: qos}
	}
}

func WithTLS(config *tls.Config) Option {
	return func(o *clientOptions) { o.tlsConfig = config }
}

// WithConnectTimeout bounds dialing plus the wait for CONNACK.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.connectTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.writeTimeout = d }
}

// WithPingTimeout bounds the wait for PINGRESP. Zero means one keep-alive
// interval.
func WithPingTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.pingTimeout = d }
}

func WithAutoReconnect(enabled bool) Option {
	return func(o *clientOptions) { o.autoReconnect = enabled }
}

// WithMaxReconnects caps reconnect attempts per outage; n <= 0 retries
// forever.
func WithMaxReconnects(n int) Option {
	return func(o *clientOptions) { o.maxReconnects = n }
}

// WithReconnectBackoff sets the first reconnect delay. Later delays double
// up to WithMaxBackoff unless a BackoffStrategy is installed.
func WithReconnectBackoff(d time.Duration) Option {
	return func(o *clientOptions) { o.reconnectBackoff = d }
}

func WithMaxBackoff(d time.Duration) Option {
	return func(o *clientOptions) { o.maxBackoff = d }
}

func WithBackoffStrategy(strategy BackoffStrategy) Option {
	return func(o *clientOptions) { o.backoffStrategy = strategy }
}

// WithMaxPacketSize limits the remaining length accepted from the broker.
// An oversized packet ends the connection with ErrPacketTooLarge.
func WithMaxPacketSize(size uint32) Option {
	return func(o *clientOptions) { o.maxPacketSize = min(size, maxVarint) }
}

// WithMaxInflight sizes the window of unacknowledged QoS 1 and 2 publishes.
// Publishing into a full window fails with ErrQuotaExceeded.
func WithMaxInflight(n uint16) Option {
	return func(o *clientOptions) { o.maxInflight = n }
}

// WithPublishRateLimit throttles publishes to r per second with the given
// burst. A non-positive r removes the limit.
func WithPublishRateLimit(r float64, burst int) Option {
	return func(o *clientOptions) {
		if r <= 0 {
			o.publishLimit = nil
			return
		}
		o.publishLimit = rate.NewLimiter(rate.Limit(r), max(burst, 1))
	}
}

// WithRetryPolicy controls retransmission of unacknowledged packets.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(o *clientOptions) { o.retryPolicy = policy }
}

// WithClock swaps the time source behind retry and keep-alive timers.
func WithClock(clock Clock) Option {
	return func(o *clientOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

func OnEvent(handler EventHandler) Option {
	return func(o *clientOptions) { o.onEvent = handler }
}

// OnConnected runs after every accepted CONNACK, reconnects included.
func OnConnected(fn func(*Client, ConnectResult)) Option {
	return func(o *clientOptions) { o.onConnected = fn }
}

// OnMessage receives messages that no subscription handler claimed.
func OnMessage(handler MessageHandler) Option {
	return func(o *clientOptions) { o.onMessage = handler }
}

// OnDisconnected runs when a connection ends, with nil after Disconnect or
// a *ConnectionLostError otherwise.
func OnDisconnected(fn func(*Client, error)) Option {
	return func(o *clientOptions) { o.onDisconnected = fn }
}

// WithProducerInterceptors appends to the chain run on outgoing messages.
func WithProducerInterceptors(interceptors ...ProducerInterceptor) Option {
	return func(o *clientOptions) {
		o.producerInterceptors = append(o.producerInterceptors, interceptors...)
	}
}

// WithConsumerInterceptors appends to the chain run on delivered messages.
func WithConsumerInterceptors(interceptors ...ConsumerInterceptor) Option {
	return func(o *clientOptions) {
		o.consumerInterceptors = append(o.consumerInterceptors, interceptors...)
	}
}

func WithLogger(logger Logger) Option {
	return func(o *clientOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMetrics(metrics Metrics) Option {
	return func(o *clientOptions) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// WithTracerProvider sets where spans go. Unset, the global otel provider
// is used.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(o *clientOptions) { o.tracerProvider = provider }
}

// WithDialer bypasses the scheme-based transports.
func WithDialer(dial DialFunc) Option {
	return func(o *clientOptions) { o.dialer = dial }
}

// WithConn hands the client an established connection. It can be used once,
// so auto-reconnect is switched off.
func WithConn(conn net.Conn) Option {
	return func(o *clientOptions) {
		used := false
		o.dialer = func(context.Context, string) (net.Conn, error) {
			if used {
				return nil, ErrClientClosed
			}
			used = true
			return conn, nil
		}
		o.autoReconnect = false
		if len(o.servers) == 0 {
			o.servers = []string{"conn://supplied"}
		}
	}
}

// WithProxy tunnels tcp, tls and websocket connections through an HTTP
// CONNECT or SOCKS5 proxy.
func WithProxy(proxyURL string) Option {
	return func(o *clientOptions) { o.proxyConfig = &ProxyConfig{URL: proxyURL} }
}

func WithProxyAuth(proxyURL, username, password string) Option {
	return func(o *clientOptions) {
		o.proxyConfig = &ProxyConfig{URL: proxyURL, Username: username, Password: password}
	}
}

// WithProxyFromEnvironment honours HTTP_PROXY, HTTPS_PROXY and NO_PROXY.
func WithProxyFromEnvironment(enabled bool) Option {
	return func(o *clientOptions) { o.proxyFromEnv = enabled }
}

// WithServers appends broker URIs. Connection attempts rotate through them.
func WithServers(servers ...string) Option {
	return func(o *clientOptions) { o.servers = append(o.servers, servers...) }
}

func WithServerResolver(resolver ServerResolver) Option {
	return func(o *clientOptions) { o.serverResolver = resolver }
}
