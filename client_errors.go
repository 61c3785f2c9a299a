package mqttv3

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventHandler observes connection lifecycle changes. The event is one of
// the lifecycle sentinels below, usually wrapped in a typed event carrying
// details; match it with errors.Is and unpack it with errors.As.
type EventHandler func(client *Client, event error)

// Lifecycle sentinels.
var (
	ErrConnected       = errors.New("connected")
	ErrDisconnected    = errors.New("disconnected")
	ErrReconnecting    = errors.New("reconnecting")
	ErrReconnectFailed = errors.New("reconnect failed")

	// ErrConnectionLost is also the error every pending operation completes
	// with when the connection drops.
	ErrConnectionLost = errors.New("connection lost")
)

// Connection establishment failures.
var (
	ErrConnectRefused = errors.New("connection refused")
	ErrAuthFailed     = fmt.Errorf("%w: authentication failed", ErrConnectRefused)
	ErrConnectTimeout = errors.New("connect timeout: no CONNACK from broker")

	// ErrProtocolError marks a broker that broke the protocol, such as one
	// whose first packet is not CONNACK.
	ErrProtocolError = errors.New("protocol error")
)

// Operation failures.
var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrClientClosed     = errors.New("client closed")
	ErrNoServers        = errors.New("no servers configured")
	ErrInvalidTopic     = errors.New("invalid topic")

	// ErrSubscribeFailed marks a SUBACK that refused one or more filters.
	ErrSubscribeFailed = errors.New("subscribe failed")
)

// ConnectedEvent follows every accepted CONNACK.
type ConnectedEvent struct {
	SessionPresent bool
	Server         string
}

func NewConnectedEvent(sessionPresent bool, server string) *ConnectedEvent {
	return &ConnectedEvent{SessionPresent: sessionPresent, Server: server}
}

func (e *ConnectedEvent) Error() string { return ErrConnected.Error() }
func (e *ConnectedEvent) Unwrap() error { return ErrConnected }

// DisconnectError is emitted when the client itself closes the connection.
// Sent reports whether DISCONNECT made it onto the transport.
type DisconnectError struct {
	Sent bool
}

func NewDisconnectError(sent bool) *DisconnectError {
	return &DisconnectError{Sent: sent}
}

func (e *DisconnectError) Error() string {
	if !e.Sent {
		return "disconnected without DISCONNECT"
	}
	return ErrDisconnected.Error()
}

func (e *DisconnectError) Unwrap() error { return ErrDisconnected }

// ReconnectEvent announces the next reconnect attempt. A handler can call
// Cancel to stop the loop before the attempt is made.
type ReconnectEvent struct {
	Attempt     int
	MaxAttempts int
	Delay       time.Duration

	cancel func()
}

func NewReconnectEvent(attempt, maxAttempts int, delay time.Duration, cancel func()) *ReconnectEvent {
	return &ReconnectEvent{Attempt: attempt, MaxAttempts: maxAttempts, Delay: delay, cancel: cancel}
}

func (e *ReconnectEvent) Error() string { return ErrReconnecting.Error() }
func (e *ReconnectEvent) Unwrap() error { return ErrReconnecting }

func (e *ReconnectEvent) Cancel() {
	if e.cancel != nil {
		e.cancel()
	}
}

// SubscribeError lists the filters whose SUBACK code was 0x80.
type SubscribeError struct {
	Filters []string
}

func NewSubscribeError(filters ...string) *SubscribeError {
	return &SubscribeError{Filters: filters}
}

func (e *SubscribeError) Error() string {
	return "subscribe failed: broker refused [" + strings.Join(e.Filters, " ") + "]"
}

func (e *SubscribeError) Unwrap() error { return ErrSubscribeFailed }

// ConnectionLostError carries the reason a live connection ended. Both
// ErrConnectionLost and Cause match it under errors.Is.
type ConnectionLostError struct {
	Cause error
}

func NewConnectionLostError(cause error) *ConnectionLostError {
	return &ConnectionLostError{Cause: cause}
}

func (e *ConnectionLostError) Error() string {
	if e.Cause == nil {
		return ErrConnectionLost.Error()
	}
	return ErrConnectionLost.Error() + ": " + e.Cause.Error()
}

func (e *ConnectionLostError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrConnectionLost}
	}
	return []error{ErrConnectionLost, e.Cause}
}

// ConnectError is a CONNACK with a non-zero return code. Codes 4 and 5
// additionally match ErrAuthFailed.
type ConnectError struct {
	ReturnCode ConnectReturnCode
}

func NewConnectError(code ConnectReturnCode) *ConnectError {
	return &ConnectError{ReturnCode: code}
}

func (e *ConnectError) Error() string {
	return "connect failed: " + e.ReturnCode.String()
}

func (e *ConnectError) Unwrap() error {
	switch e.ReturnCode {
	case ConnectRefusedBadUsernamePassword, ConnectRefusedNotAuthorized:
		return ErrAuthFailed
	default:
		return ErrConnectRefused
	}
}
