package mqttv3

import (
	"context"
	"sync"
)

// Token represents an asynchronous operation that can be waited on.
//
// Tokens are returned by PublishAsync, SubscribeAsync and UnsubscribeAsync.
// They complete exactly once: with nil when the broker acknowledged the
// operation, or with an error (ErrAckTimeout, a *ConnectionLostError, or the
// cancellation cause).
//
//	token := client.PublishAsync(ctx, &mqttv3.Message{Topic: "a/b", QoS: mqttv3.QoS1})
//	select {
//	case <-token.Done():
//		if err := token.Error(); err != nil {
//			log.Printf("publish failed: %v", err)
//		}
//	case <-time.After(5 * time.Second):
//	}
type Token interface {
	// Wait blocks until the operation completes or the context is cancelled.
	// Cancelling ctx abandons the wait only; the operation keeps running.
	Wait(ctx context.Context) error

	// Done returns a channel that closes when the operation is complete.
	Done() <-chan struct{}

	// Error returns the completion error. It is nil until Done is closed.
	Error() error
}

// token is the completion core shared by all tokens.
type token struct {
	done chan struct{}
	err  error
	once sync.Once
}

func newToken() token {
	return token{done: make(chan struct{})}
}

// Wait blocks until the operation completes or the context is cancelled.
func (t *token) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel that closes when the operation is complete.
func (t *token) Done() <-chan struct{} {
	return t.done
}

// Error returns the error if the operation has completed.
func (t *token) Error() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// complete marks the token as complete with the given error.
// Only the first call has an effect.
func (t *token) complete(err error) bool {
	first := false
	t.once.Do(func() {
		t.err = err
		close(t.done)
		first = true
	})
	return first
}

// resolve completes the token from the terminal acknowledgment. The default
// ignores the packet.
func (t *token) resolve(Packet) {
	t.complete(nil)
}

// PublishToken tracks a PUBLISH until its QoS handshake completes.
type PublishToken struct {
	token

	// PacketID is the identifier the message was sent with. Zero for QoS 0.
	PacketID uint16
}

func newPublishToken(packetID uint16) *PublishToken {
	return &PublishToken{token: newToken(), PacketID: packetID}
}

// SubscribeToken tracks a SUBSCRIBE until its SUBACK arrives.
type SubscribeToken struct {
	token

	PacketID uint16

	mu          sync.Mutex
	returnCodes []SubackReturnCode
}

func newSubscribeToken(packetID uint16) *SubscribeToken {
	return &SubscribeToken{token: newToken(), PacketID: packetID}
}

func (t *SubscribeToken) resolve(ack Packet) {
	if suback, ok := ack.(*SubackPacket); ok {
		t.mu.Lock()
		t.returnCodes = suback.ReturnCodes
		t.mu.Unlock()
	}
	t.complete(nil)
}

// ReturnCodes returns the SUBACK return codes, one per requested filter.
// It is nil until the token completes successfully.
func (t *SubscribeToken) ReturnCodes() []SubackReturnCode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.returnCodes
}

// UnsubscribeToken tracks an UNSUBSCRIBE until its UNSUBACK arrives.
type UnsubscribeToken struct {
	token

	PacketID uint16
}

func newUnsubscribeToken(packetID uint16) *UnsubscribeToken {
	return &UnsubscribeToken{token: newToken(), PacketID: packetID}
}

// completedToken returns a token that is already complete with err.
func completedToken(err error) *PublishToken {
	t := newPublishToken(0)
	t.complete(err)
	return t
}

// operationToken is the internal view of a token owned by a pending operation.
type operationToken interface {
	Token
	complete(err error) bool
	resolve(ack Packet)
}

var (
	_ operationToken = (*PublishToken)(nil)
	_ operationToken = (*SubscribeToken)(nil)
	_ operationToken = (*UnsubscribeToken)(nil)
)
