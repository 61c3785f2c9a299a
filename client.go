package mqttv3

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// ConnState is the lifecycle state of the client's connection.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	// StateFaulted is entered when the connection failed. It holds until
	// the next Connect.
	StateFaulted
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// readBufferSize is the size of a single transport read.
const readBufferSize = 4096

// connection is one transport session with the broker, from CONNECT until
// the transport closes.
type connection struct {
	conn     net.Conn
	server   string
	ka       *keepAlive
	readDone chan struct{}
	lostOnce sync.Once
}

// subscription is a filter the application subscribed to.
type subscription struct {
	qos     QoS
	handler MessageHandler
}

// Client is an MQTT 3.1.1 client.
//
// One goroutine per connection reads from the transport, acknowledges
// inbound messages and dispatches acknowledgments to pending operations.
// Publish, Subscribe and Unsubscribe are safe for concurrent use.
type Client struct {
	options *clientOptions
	logger  Logger
	metrics *clientMetrics
	tracer  *tracer

	serverIndex uint32

	ids     *PacketIDManager
	flow    *FlowController
	pending *pendingRegistry
	inbound *inboundQoS2

	subscriptionsMu sync.RWMutex
	subscriptions   map[string]subscription

	mu    sync.Mutex
	state ConnState
	cur   *connection

	writeMu sync.Mutex

	closed       atomic.Bool
	done         chan struct{}
	reconnecting atomic.Bool
}

// NewClient creates a client without connecting it.
func NewClient(opts ...Option) *Client {
	options := newClientOptions(opts...)

	if options.clientID == "" && options.cleanSession {
		options.clientID = generateClientID()
	}

	c := &Client{
		options:       options,
		metrics:       newClientMetrics(options.metrics),
		tracer:        newTracer(options.tracerProvider),
		ids:           NewPacketIDManager(),
		flow:          NewFlowController(options.maxInflight),
		inbound:       newInboundQoS2(),
		subscriptions: make(map[string]subscription),
		done:          make(chan struct{}),
	}
	c.logger = options.logger.WithFields(LogFields{LogFieldClientID: options.clientID})

	c.pending = newPendingRegistry(registryConfig{
		clock:   options.clock,
		policy:  options.retryPolicy,
		send:    c.writePacket,
		logger:  c.logger,
		metrics: options.metrics,
		release: c.releaseKey,
	})

	return c
}

// Dial creates a client and connects it to the first reachable server.
func Dial(opts ...Option) (*Client, error) {
	return DialContext(context.Background(), opts...)
}

// DialContext creates a client and connects it. The connect timeout applies
// in addition to ctx.
func DialContext(ctx context.Context, opts ...Option) (*Client, error) {
	c := NewClient(opts...)
	if _, err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// releaseKey returns the resources held by an operation leaving the registry.
func (c *Client) releaseKey(key pendingKey) {
	_ = c.ids.Release(key.id)
	if key.kind == PacketPUBLISH {
		c.flow.Release()
	}
}

// Connect opens the transport, sends CONNECT and waits for CONNACK. The wait
// is bounded by ctx and the connect timeout: a missing CONNACK returns
// ErrConnectTimeout, a rejection returns a *ConnectError.
func (c *Client) Connect(ctx context.Context) (ConnectResult, error) {
	if c.closed.Load() {
		return ConnectResult{}, ErrClientClosed
	}

	c.mu.Lock()
	switch c.state {
	case StateConnected, StateConnecting, StateDisconnecting:
		c.mu.Unlock()
		return ConnectResult{}, ErrAlreadyConnected
	}
	c.state = StateConnecting
	c.mu.Unlock()

	ctx, span := c.tracer.start(ctx, "mqtt.connect", attrClientID.String(c.options.clientID))

	result, err := c.connect(ctx)
	endSpan(span, err)

	if err != nil {
		c.mu.Lock()
		if c.state == StateConnecting {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		return ConnectResult{}, err
	}

	return result, nil
}

func (c *Client) connect(ctx context.Context) (ConnectResult, error) {
	if c.options.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, c.options.connectTimeout, ErrConnectTimeout)
		defer cancel()
	}

	c.metrics.connectAttempt()

	server, err := c.nextServer(ctx)
	if err != nil {
		return ConnectResult{}, err
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attrServer.String(server))

	dial := c.options.dialer
	if dial == nil {
		dial = func(ctx context.Context, addr string) (net.Conn, error) {
			return dialServer(ctx, addr, c.options)
		}
	}

	conn, err := dial(ctx, server)
	if err != nil {
		return ConnectResult{}, connectFailure(ctx, err)
	}

	cn := &connection{
		conn:     conn,
		server:   server,
		readDone: make(chan struct{}),
	}

	// Unblock the CONNACK read when ctx ends.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})

	if err := c.write(cn, c.buildConnect()); err != nil {
		stop()
		conn.Close()
		return ConnectResult{}, connectFailure(ctx, err)
	}

	decoder := NewDecoder(c.options.maxPacketSize)
	first, err := c.readPacket(cn, decoder)

	if !stop() && err == nil {
		// ctx ended as CONNACK arrived and the read deadline is now in the past.
		err = context.Cause(ctx)
	}

	if err != nil {
		conn.Close()
		return ConnectResult{}, connectFailure(ctx, err)
	}

	connack, ok := first.(*ConnackPacket)
	if !ok {
		conn.Close()
		return ConnectResult{}, fmt.Errorf("%w: expected CONNACK, got %s", ErrProtocolError, first.Type())
	}
	span.SetAttributes(attrReturnCode.Int(int(connack.ReturnCode)))

	if !connack.ReturnCode.Accepted() {
		conn.Close()
		c.logger.Warn("connection refused", LogFields{
			LogFieldRemoteAddr: server,
			LogFieldReturnCode: connack.ReturnCode.String(),
		})
		return ConnectResult{}, NewConnectError(connack.ReturnCode)
	}

	// QoS 2 messages held from a previous connection are only valid if the
	// broker resumed the session they belong to. A new session also numbers
	// its packets from 1 again.
	if c.options.cleanSession || !connack.SessionPresent {
		c.inbound.reset()
		c.ids.Reset()
	}

	if c.options.keepAlive > 0 {
		interval := time.Duration(c.options.keepAlive) * time.Second
		cn.ka = newKeepAlive(c.options.clock, interval, c.options.pingTimeout,
			func() error { return c.writePacket(&PingreqPacket{}) },
			func() { c.connectionLost(cn, ErrKeepAliveTimeout) },
		)
	}

	c.mu.Lock()
	if c.state != StateConnecting || c.closed.Load() {
		c.mu.Unlock()
		conn.Close()
		return ConnectResult{}, ErrClientClosed
	}
	c.cur = cn
	c.state = StateConnected
	c.mu.Unlock()

	go c.readLoop(cn, decoder)
	if cn.ka != nil {
		cn.ka.start()
	}

	result := ConnectResult{SessionPresent: connack.SessionPresent, Server: server}

	c.metrics.connected()
	c.logger.Info("connected", LogFields{
		LogFieldRemoteAddr: server,
		LogFieldState:      fmt.Sprintf("session_present=%t", connack.SessionPresent),
	})
	c.emit(NewConnectedEvent(connack.SessionPresent, server))
	if c.options.onConnected != nil {
		c.options.onConnected(c, result)
	}

	return result, nil
}

// connectFailure maps an error seen while connecting to the error Connect
// returns.
func connectFailure(ctx context.Context, err error) error {
	if ctx.Err() == nil {
		return err
	}
	if cause := context.Cause(ctx); errors.Is(cause, ErrConnectTimeout) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrConnectTimeout, err)
	}
	return context.Cause(ctx)
}

func (c *Client) buildConnect() *ConnectPacket {
	pkt := &ConnectPacket{
		ClientID:     c.options.clientID,
		CleanSession: c.options.cleanSession,
		KeepAlive:    c.options.keepAlive,
		Username:     c.options.username,
		Password:     c.options.password,
	}

	if will := c.options.will; will != nil {
		pkt.WillFlag = true
		pkt.WillTopic = will.Topic
		pkt.WillPayload = will.Payload
		pkt.WillQoS = will.QoS
		pkt.WillRetain = will.Retain
	}

	return pkt
}

// nextServer returns the next server address to try using round-robin selection.
// It calls the resolver if configured, then falls back to static servers.
func (c *Client) nextServer(ctx context.Context) (string, error) {
	var servers []string

	if c.options.serverResolver != nil {
		resolved, err := c.options.serverResolver(ctx)
		if err == nil && len(resolved) > 0 {
			servers = resolved
		} else if err != nil {
			c.logger.Warn("server resolver failed", LogFields{LogFieldError: err.Error()})
		}
	}

	if len(servers) == 0 {
		servers = c.options.servers
	}

	if len(servers) == 0 {
		return "", ErrNoServers
	}

	index := atomic.AddUint32(&c.serverIndex, 1) - 1
	return servers[index%uint32(len(servers))], nil
}

// readPacket reads from the transport until decoder yields one packet.
func (c *Client) readPacket(cn *connection, decoder *Decoder) (Packet, error) {
	buf := make([]byte, readBufferSize)
	for {
		pkt, err := decoder.Next()
		if err == nil {
			return pkt, nil
		}
		if !errors.Is(err, ErrNeedMoreData) {
			return nil, err
		}

		n, err := cn.conn.Read(buf)
		if n > 0 {
			c.metrics.bytesReceived(n)
			if _, werr := decoder.Write(buf[:n]); werr != nil {
				return nil, werr
			}
		}
		if err != nil {
			return nil, err
		}
	}
}

// readLoop reads and handles packets until the transport fails.
func (c *Client) readLoop(cn *connection, decoder *Decoder) {
	defer close(cn.readDone)

	for {
		pkt, err := c.readPacket(cn, decoder)
		if err != nil {
			if decoder.State() == DecoderFailed {
				c.logger.Error("malformed packet from broker", LogFields{
					LogFieldRemoteAddr: cn.server,
					LogFieldError:      err.Error(),
				})
			}
			c.connectionLost(cn, err)
			return
		}

		if err := c.handlePacket(cn, pkt); err != nil {
			c.connectionLost(cn, err)
			return
		}
	}
}

// connectionLost tears down cn after a transport or protocol failure. Every
// pending operation completes with a *ConnectionLostError.
func (c *Client) connectionLost(cn *connection, cause error) {
	cn.lostOnce.Do(func() {
		c.mu.Lock()
		if c.cur != cn || c.state != StateConnected {
			// Disconnect owns the teardown.
			c.mu.Unlock()
			cn.conn.Close()
			return
		}
		c.state = StateFaulted
		c.mu.Unlock()

		if cn.ka != nil {
			cn.ka.stop()
		}
		cn.conn.Close()

		lost := NewConnectionLostError(cause)
		failed := c.pending.failAll(lost)

		c.metrics.disconnected(true)
		c.logger.Warn("connection lost", LogFields{
			LogFieldRemoteAddr: cn.server,
			LogFieldError:      fmt.Sprint(cause),
			LogFieldAttempts:   failed,
		})
		c.emit(lost)
		if c.options.onDisconnected != nil {
			c.options.onDisconnected(c, lost)
		}

		if c.options.autoReconnect && !c.closed.Load() {
			go c.reconnectLoop()
		}
	})
}

// handlePacket processes one inbound packet. A returned error ends the
// connection.
func (c *Client) handlePacket(cn *connection, pkt Packet) error {
	c.metrics.packetReceived(pkt.Type())

	switch p := pkt.(type) {
	case *PublishPacket:
		return c.handlePublish(p)
	case *PubrelPacket:
		return c.handlePubrel(p)
	case *PubackPacket, *PubrecPacket, *PubcompPacket, *SubackPacket, *UnsubackPacket:
		c.pending.handleAck(p.(PacketWithID))
		return nil
	case *PingrespPacket:
		if cn.ka != nil {
			cn.ka.pong()
		}
		return nil
	default:
		return fmt.Errorf("%w: unexpected %s from broker", ErrProtocolError, pkt.Type())
	}
}

// handlePublish processes an inbound PUBLISH according to its QoS.
func (c *Client) handlePublish(pkt *PublishPacket) error {
	msg := pkt.ToMessage()
	c.metrics.messageReceived(msg.QoS)

	switch pkt.QoS {
	case QoS0:
		c.deliverMessage(msg)
		return nil

	case QoS1:
		c.deliverMessage(msg)
		return c.writePacket(&PubackPacket{PacketID: pkt.PacketID})

	default:
		if !c.inbound.receive(msg) {
			c.logger.Debug("duplicate QoS 2 publish held until PUBREL", LogFields{
				LogFieldPacketID: pkt.PacketID,
				LogFieldTopic:    pkt.Topic,
			})
		}
		return c.writePacket(&PubrecPacket{PacketID: pkt.PacketID})
	}
}

// handlePubrel releases a held QoS 2 message. PUBCOMP is sent even for an
// unknown identifier so the broker can finish its side of the exchange.
func (c *Client) handlePubrel(pkt *PubrelPacket) error {
	if msg, ok := c.inbound.release(pkt.PacketID); ok {
		c.deliverMessage(msg)
	} else {
		c.logger.Debug("PUBREL for unknown packet", LogFields{LogFieldPacketID: pkt.PacketID})
	}
	return c.writePacket(&PubcompPacket{PacketID: pkt.PacketID})
}

// deliverMessage delivers a message to matching subscription handlers.
// Handlers are copied to avoid holding the lock during callback invocation,
// which would deadlock a handler that subscribes or unsubscribes.
func (c *Client) deliverMessage(msg *Message) {
	msg = applyConsumerInterceptors(c.logger, c.options.consumerInterceptors, msg)
	if msg == nil {
		return
	}

	c.subscriptionsMu.RLock()
	var handlers []MessageHandler
	for filter, sub := range c.subscriptions {
		if sub.handler != nil && TopicMatch(filter, msg.Topic) {
			handlers = append(handlers, sub.handler)
		}
	}
	c.subscriptionsMu.RUnlock()

	if len(handlers) == 0 {
		if c.options.onMessage != nil {
			c.options.onMessage(c, msg)
		}
		return
	}

	for _, handler := range handlers {
		handler(c, msg)
	}
}

// writePacket writes pkt on the current connection. Only DISCONNECT may be
// written while disconnecting, and nothing before CONNACK.
func (c *Client) writePacket(pkt Packet) error {
	c.mu.Lock()
	cn, state := c.cur, c.state
	c.mu.Unlock()

	switch {
	case cn == nil:
		return ErrNotConnected
	case state == StateConnected:
	case state == StateDisconnecting && pkt.Type() == PacketDISCONNECT:
	default:
		return ErrNotConnected
	}

	return c.write(cn, pkt)
}

// write serializes transport writes.
func (c *Client) write(cn *connection, pkt Packet) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.options.writeTimeout > 0 {
		_ = cn.conn.SetWriteDeadline(time.Now().Add(c.options.writeTimeout))
		defer cn.conn.SetWriteDeadline(time.Time{})
	}

	n, err := WritePacket(cn.conn, pkt, 0)
	if err != nil {
		return err
	}

	c.metrics.packetSent(pkt.Type(), n)
	if cn.ka != nil {
		cn.ka.sent()
	}
	return nil
}

// PublishAsync sends msg and returns a token that completes when the QoS
// handshake does: immediately after the write for QoS 0, on PUBACK for
// QoS 1 and on PUBCOMP for QoS 2. Cancelling ctx cancels the operation.
func (c *Client) PublishAsync(ctx context.Context, msg *Message) *PublishToken {
	if ctx == nil {
		ctx = context.Background()
	}

	if c.closed.Load() {
		return completedToken(ErrClientClosed)
	}
	if msg == nil {
		return completedToken(ErrInvalidTopic)
	}

	msg = applyProducerInterceptors(c.logger, c.options.producerInterceptors, msg)
	if msg == nil {
		return completedToken(nil)
	}

	if err := ValidateTopicName(msg.Topic); err != nil {
		return completedToken(err)
	}
	if !msg.QoS.Valid() {
		return completedToken(ErrInvalidQoS)
	}
	if !c.IsConnected() {
		return completedToken(ErrNotConnected)
	}

	if c.options.publishLimit != nil {
		if err := c.options.publishLimit.Wait(ctx); err != nil {
			return completedToken(err)
		}
	}

	ctx, span := c.tracer.start(ctx, "mqtt.publish",
		attrClientID.String(c.options.clientID),
		attrTopic.String(msg.Topic),
		attrQoS.Int(int(msg.QoS)),
		attrRetain.Bool(msg.Retain),
	)

	pkt := &PublishPacket{}
	pkt.FromMessage(msg)

	if msg.QoS == QoS0 {
		err := c.writePacket(pkt)
		if err == nil {
			c.metrics.messageSent(QoS0)
		}
		endSpan(span, err)
		return completedToken(err)
	}

	if err := c.flow.Acquire(); err != nil {
		endSpan(span, err)
		return completedToken(err)
	}

	id, err := c.ids.Allocate()
	if err != nil {
		c.flow.Release()
		endSpan(span, err)
		return completedToken(err)
	}

	pkt.PacketID = id
	span.SetAttributes(attrPacketID.Int(int(id)))

	state := opAwaitingPuback
	if msg.QoS == QoS2 {
		state = opAwaitingPubrec
	}

	tok := newPublishToken(id)
	if err := c.pending.start(ctx, pendingKey{id: id, kind: PacketPUBLISH}, state, pkt, tok); err != nil {
		c.releaseKey(pendingKey{id: id, kind: PacketPUBLISH})
		tok.complete(err)
	} else {
		c.metrics.messageSent(msg.QoS)
	}

	endSpanOnDone(span, tok)
	return tok
}

// Publish sends msg and waits for its handshake to finish.
func (c *Client) Publish(ctx context.Context, msg *Message) error {
	return c.PublishAsync(ctx, msg).Wait(ctx)
}

// SubscribeAsync subscribes handler to subs and returns a token that
// completes on SUBACK. Filters the broker refuses are unregistered.
func (c *Client) SubscribeAsync(ctx context.Context, subs []Subscription, handler MessageHandler) *SubscribeToken {
	if ctx == nil {
		ctx = context.Background()
	}

	fail := func(err error) *SubscribeToken {
		tok := newSubscribeToken(0)
		tok.complete(err)
		return tok
	}

	if c.closed.Load() {
		return fail(ErrClientClosed)
	}
	if len(subs) == 0 {
		return fail(ErrNoTopicFilters)
	}
	for _, sub := range subs {
		if err := ValidateTopicFilter(sub.TopicFilter); err != nil {
			return fail(err)
		}
		if !sub.QoS.Valid() {
			return fail(ErrInvalidQoS)
		}
	}
	if !c.IsConnected() {
		return fail(ErrNotConnected)
	}

	filters := make([]string, len(subs))
	for i, sub := range subs {
		filters[i] = sub.TopicFilter
	}

	ctx, span := c.tracer.start(ctx, "mqtt.subscribe",
		attrClientID.String(c.options.clientID),
		attrFilters.StringSlice(filters),
	)

	id, err := c.ids.Allocate()
	if err != nil {
		endSpan(span, err)
		return fail(err)
	}
	span.SetAttributes(attrPacketID.Int(int(id)))

	// Register before sending so messages that race the SUBACK are delivered.
	previous := c.registerSubscriptions(subs, handler)

	pkt := &SubscribePacket{PacketID: id, Subscriptions: append([]Subscription(nil), subs...)}
	tok := newSubscribeToken(id)
	if err := c.pending.start(ctx, pendingKey{id: id, kind: PacketSUBSCRIBE}, opAwaitingSuback, pkt, tok); err != nil {
		c.releaseKey(pendingKey{id: id, kind: PacketSUBSCRIBE})
		tok.complete(err)
	}

	go c.settleSubscribe(tok, subs, previous)
	endSpanOnDone(span, tok)
	return tok
}

// registerSubscriptions installs handler for subs and returns what it replaced.
func (c *Client) registerSubscriptions(subs []Subscription, handler MessageHandler) map[string]subscription {
	c.subscriptionsMu.Lock()
	defer c.subscriptionsMu.Unlock()

	previous := make(map[string]subscription, len(subs))
	for _, sub := range subs {
		if old, ok := c.subscriptions[sub.TopicFilter]; ok {
			previous[sub.TopicFilter] = old
		}
		c.subscriptions[sub.TopicFilter] = subscription{qos: sub.QoS, handler: handler}
	}
	return previous
}

// settleSubscribe reconciles the handler table with the SUBACK outcome.
func (c *Client) settleSubscribe(tok *SubscribeToken, subs []Subscription, previous map[string]subscription) {
	<-tok.Done()

	codes := tok.ReturnCodes()
	failedAll := tok.Error() != nil

	c.subscriptionsMu.Lock()
	defer c.subscriptionsMu.Unlock()

	for i, sub := range subs {
		refused := failedAll || i >= len(codes) || codes[i].Failed()
		if !refused {
			if current, ok := c.subscriptions[sub.TopicFilter]; ok {
				current.qos = codes[i].GrantedQoS()
				c.subscriptions[sub.TopicFilter] = current
			}
			continue
		}
		if old, ok := previous[sub.TopicFilter]; ok {
			c.subscriptions[sub.TopicFilter] = old
		} else {
			delete(c.subscriptions, sub.TopicFilter)
		}
	}
}

// Subscribe subscribes handler to filter and waits for the SUBACK.
func (c *Client) Subscribe(ctx context.Context, filter string, qos QoS, handler MessageHandler) error {
	_, err := c.SubscribeMultiple(ctx, []Subscription{{TopicFilter: filter, QoS: qos}}, handler)
	return err
}

// SubscribeMultiple subscribes handler to subs and waits for the SUBACK. It
// returns the broker's return codes and a *SubscribeError naming any filter
// the broker refused.
func (c *Client) SubscribeMultiple(ctx context.Context, subs []Subscription, handler MessageHandler) ([]SubackReturnCode, error) {
	tok := c.SubscribeAsync(ctx, subs, handler)
	if err := tok.Wait(ctx); err != nil {
		return nil, err
	}

	codes := tok.ReturnCodes()
	var refused []string
	for i, sub := range subs {
		if i >= len(codes) || codes[i].Failed() {
			refused = append(refused, sub.TopicFilter)
		}
	}
	if len(refused) > 0 {
		return codes, NewSubscribeError(refused...)
	}
	return codes, nil
}

// UnsubscribeAsync removes filters and returns a token that completes on
// UNSUBACK. Handlers are removed once the broker confirms.
func (c *Client) UnsubscribeAsync(ctx context.Context, filters ...string) *UnsubscribeToken {
	if ctx == nil {
		ctx = context.Background()
	}

	fail := func(err error) *UnsubscribeToken {
		tok := newUnsubscribeToken(0)
		tok.complete(err)
		return tok
	}

	if c.closed.Load() {
		return fail(ErrClientClosed)
	}
	if len(filters) == 0 {
		return fail(ErrNoTopicFilters)
	}
	for _, filter := range filters {
		if err := ValidateTopicFilter(filter); err != nil {
			return fail(err)
		}
	}
	if !c.IsConnected() {
		return fail(ErrNotConnected)
	}

	ctx, span := c.tracer.start(ctx, "mqtt.unsubscribe",
		attrClientID.String(c.options.clientID),
		attrFilters.StringSlice(filters),
	)

	id, err := c.ids.Allocate()
	if err != nil {
		endSpan(span, err)
		return fail(err)
	}

	pkt := &UnsubscribePacket{PacketID: id, TopicFilters: append([]string(nil), filters...)}
	tok := newUnsubscribeToken(id)
	if err := c.pending.start(ctx, pendingKey{id: id, kind: PacketUNSUBSCRIBE}, opAwaitingUnsuback, pkt, tok); err != nil {
		c.releaseKey(pendingKey{id: id, kind: PacketUNSUBSCRIBE})
		tok.complete(err)
	}

	go func() {
		<-tok.Done()
		if tok.Error() != nil {
			return
		}
		c.subscriptionsMu.Lock()
		for _, filter := range filters {
			delete(c.subscriptions, filter)
		}
		c.subscriptionsMu.Unlock()
	}()

	endSpanOnDone(span, tok)
	return tok
}

// Unsubscribe removes filters and waits for the UNSUBACK.
func (c *Client) Unsubscribe(ctx context.Context, filters ...string) error {
	return c.UnsubscribeAsync(ctx, filters...).Wait(ctx)
}

// Cancel abandons the operation behind tok. Its retransmission stops and
// tok completes with context.Canceled; bytes already written are not
// recalled. It reports whether an operation was cancelled.
func (c *Client) Cancel(tok Token) bool {
	switch t := tok.(type) {
	case *PublishToken:
		return c.pending.cancelOwned(pendingKey{id: t.PacketID, kind: PacketPUBLISH}, t, context.Canceled)
	case *SubscribeToken:
		return c.pending.cancelOwned(pendingKey{id: t.PacketID, kind: PacketSUBSCRIBE}, t, context.Canceled)
	case *UnsubscribeToken:
		return c.pending.cancelOwned(pendingKey{id: t.PacketID, kind: PacketUNSUBSCRIBE}, t, context.Canceled)
	default:
		return false
	}
}

// Disconnect sends DISCONNECT and closes the transport. Pending operations
// complete with ErrDisconnected. The client may connect again afterwards.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	cn := c.cur
	if c.state != StateConnected || cn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.state = StateDisconnecting
	c.mu.Unlock()

	if cn.ka != nil {
		cn.ka.stop()
	}

	sendErr := c.writePacket(&DisconnectPacket{})
	cn.conn.Close()

	var waitErr error
	select {
	case <-cn.readDone:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	c.pending.failAll(ErrDisconnected)

	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()

	c.metrics.disconnected(false)
	c.logger.Info("disconnected", LogFields{LogFieldRemoteAddr: cn.server})
	c.emit(NewDisconnectError(sendErr == nil))
	if c.options.onDisconnected != nil {
		c.options.onDisconnected(c, nil)
	}

	return waitErr
}

// Close disconnects from the broker, stops reconnection and releases
// resources. The client cannot be used afterwards.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := c.Disconnect(ctx); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}

	c.pending.failAll(ErrClientClosed)
	return nil
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected && !c.closed.Load()
}

// State returns the connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ClientID returns the client identifier.
func (c *Client) ClientID() string {
	return c.options.clientID
}

// Pending returns the number of operations awaiting acknowledgment.
func (c *Client) Pending() int {
	return c.pending.len()
}

// emit sends an event to the event handler.
func (c *Client) emit(event error) {
	if c.options.onEvent != nil {
		c.options.onEvent(c, event)
	}
}

// generateClientID returns a random identifier of 23 characters, the
// longest every broker must accept.
func generateClientID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "mqttv3-" + id[:16]
}

// restoreSubscriptions re-issues every known subscription after the broker
// reported that it has no session for us.
func (c *Client) restoreSubscriptions() {
	c.subscriptionsMu.RLock()
	subs := make([]Subscription, 0, len(c.subscriptions))
	handlers := make([]MessageHandler, 0, len(c.subscriptions))
	for filter, sub := range c.subscriptions {
		subs = append(subs, Subscription{TopicFilter: filter, QoS: sub.qos})
		handlers = append(handlers, sub.handler)
	}
	c.subscriptionsMu.RUnlock()

	for i, sub := range subs {
		tok := c.SubscribeAsync(context.Background(), []Subscription{sub}, handlers[i])
		go func(filter string) {
			<-tok.Done()
			if err := tok.Error(); err != nil {
				c.logger.Warn("failed to restore subscription", LogFields{
					LogFieldTopic: filter,
					LogFieldError: err.Error(),
				})
			}
		}(sub.TopicFilter)
	}
}

// reconnectLoop re-establishes the connection with backoff. Operations
// pending at loss have already failed and are not replayed.
func (c *Client) reconnectLoop() {
	if !c.options.autoReconnect || c.closed.Load() {
		return
	}

	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer c.reconnecting.Store(false)

	stopCh := make(chan struct{})
	var stopOnce sync.Once
	cancelReconnect := func() {
		stopOnce.Do(func() { close(stopCh) })
	}

	attempt := 0
	backoff := c.options.reconnectBackoff

	for {
		if c.closed.Load() {
			return
		}

		attempt++
		if c.options.maxReconnects > 0 && attempt > c.options.maxReconnects {
			c.logger.Error("giving up reconnecting", LogFields{LogFieldAttempts: attempt - 1})
			c.emit(ErrReconnectFailed)
			return
		}

		c.emit(NewReconnectEvent(attempt, c.options.maxReconnects, backoff, cancelReconnect))

		timer := time.NewTimer(backoff)
		select {
		case <-c.done:
			timer.Stop()
			return
		case <-stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}

		result, err := c.Connect(context.Background())
		if err == nil {
			if !result.SessionPresent {
				c.restoreSubscriptions()
			}
			return
		}
		if errors.Is(err, ErrAlreadyConnected) || errors.Is(err, ErrClientClosed) {
			return
		}

		c.logger.Debug("reconnect attempt failed", LogFields{
			LogFieldAttempts: attempt,
			LogFieldError:    err.Error(),
			LogFieldDuration: backoff.String(),
		})

		if c.options.backoffStrategy != nil {
			backoff = c.options.backoffStrategy(attempt, backoff, err)
		} else {
			backoff *= 2
		}
		if backoff > c.options.maxBackoff {
			backoff = c.options.maxBackoff
		}
	}
}
