package mqttv3

import "fmt"

// ProducerInterceptor sees every message handed to Publish before the PUBLISH
// packet is built. It may return msg, a replacement, or nil to drop it; a
// dropped publish completes successfully without touching the network.
// msg belongs to the caller, so clone it before mutating.
type ProducerInterceptor interface {
	OnSend(msg *Message) *Message
}

// ConsumerInterceptor sees every received message before handlers do.
// Returning nil suppresses delivery; the acknowledgment flow is unaffected.
type ConsumerInterceptor interface {
	OnConsume(msg *Message) *Message
}

type ProducerInterceptorFunc func(msg *Message) *Message

func (f ProducerInterceptorFunc) OnSend(msg *Message) *Message { return f(msg) }

type ConsumerInterceptorFunc func(msg *Message) *Message

func (f ConsumerInterceptorFunc) OnConsume(msg *Message) *Message { return f(msg) }

// runInterceptors threads msg through each stage in order until one drops
// it. A stage that panics is logged and skipped.
func runInterceptors[T any](logger Logger, side string, stages []T, call func(T, *Message) *Message, msg *Message) *Message {
	for _, stage := range stages {
		if msg == nil {
			return nil
		}
		msg = guardStage(logger, side, stage, call, msg)
	}
	return msg
}

func guardStage[T any](logger Logger, side string, stage T, call func(T, *Message) *Message, msg *Message) (out *Message) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("interceptor panic", LogFields{
				LogFieldReason: side,
				LogFieldError:  fmt.Sprint(r),
				LogFieldTopic:  msg.Topic,
			})
			out = msg
		}
	}()
	return call(stage, msg)
}

func applyProducerInterceptors(logger Logger, chain []ProducerInterceptor, msg *Message) *Message {
	return runInterceptors(logger, "producer", chain, ProducerInterceptor.OnSend, msg)
}

func applyConsumerInterceptors(logger Logger, chain []ConsumerInterceptor, msg *Message) *Message {
	return runInterceptors(logger, "consumer", chain, ConsumerInterceptor.OnConsume, msg)
}
