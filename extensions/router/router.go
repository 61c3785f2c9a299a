// Package router dispatches received messages to handlers selected by topic
// filter and message attributes.
package router

import (
	"context"
	"regexp"
	"slices"
	"sync"

	"github.com/vitalvas/mqttv3"
)

// Handler processes a routed message.
type Handler func(msg *mqttv3.Message)

// Condition is the set of checks a message must pass to reach a handler.
// A handler registered without options receives every message.
type Condition struct {
	filter string
	checks []func(*mqttv3.Message) bool
}

type ConditionOption func(*Condition)

// WithTopic matches messages against an MQTT topic filter. The filter is
// also what Subscribe asks the broker for.
func WithTopic(filter string) ConditionOption {
	return func(c *Condition) {
		c.filter = filter
		c.checks = append(c.checks, func(m *mqttv3.Message) bool {
			return mqttv3.TopicMatch(filter, m.Topic)
		})
	}
}

// WithQoS matches the QoS the message was delivered with.
func WithQoS(qos mqttv3.QoS) ConditionOption {
	return func(c *Condition) {
		c.checks = append(c.checks, func(m *mqttv3.Message) bool { return m.QoS == qos })
	}
}

// WithRetain matches the retain flag, which brokers set on messages replayed
// from their retained store.
func WithRetain(retain bool) ConditionOption {
	return func(c *Condition) {
		c.checks = append(c.checks, func(m *mqttv3.Message) bool { return m.Retain == retain })
	}
}

// WithPayload matches payloads against pattern.
func WithPayload(pattern *regexp.Regexp) ConditionOption {
	return func(c *Condition) {
		c.checks = append(c.checks, func(m *mqttv3.Message) bool { return pattern.Match(m.Payload) })
	}
}

func (c *Condition) accepts(msg *mqttv3.Message) bool {
	for _, check := range c.checks {
		if !check(msg) {
			return false
		}
	}
	return true
}

type route struct {
	cond    Condition
	handler Handler
}

// Router fans a message out to every handler whose condition accepts it,
// in registration order. It is safe for concurrent use.
type Router struct {
	mu     sync.RWMutex
	routes []route
}

func New() *Router {
	return &Router{}
}

// Handle registers handler behind the given conditions:
//
//	r.Handle(h, WithTopic("sensors/#"))
//	r.Handle(h, WithTopic("alerts/+"), WithPayload(regexp.MustCompile(`^critical`)))
func (r *Router) Handle(handler Handler, opts ...ConditionOption) {
	var cond Condition
	for _, opt := range opts {
		opt(&cond)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route{cond: cond, handler: handler})
}

// Route calls each matching handler. Handlers run outside the router lock,
// so they may register further routes.
func (r *Router) Route(msg *mqttv3.Message) {
	if msg == nil {
		return
	}

	r.mu.RLock()
	var targets []Handler
	for _, rt := range r.routes {
		if rt.cond.accepts(msg) {
			targets = append(targets, rt.handler)
		}
	}
	r.mu.RUnlock()

	for _, h := range targets {
		h(msg)
	}
}

// Filters lists the distinct topic filters in use, sorted.
func (r *Router) Filters() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	filters := make([]string, 0, len(r.routes))
	for _, rt := range r.routes {
		if rt.cond.filter != "" {
			filters = append(filters, rt.cond.filter)
		}
	}
	slices.Sort(filters)
	return slices.Compact(filters)
}

func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}

// Clear drops every route.
func (r *Router) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = nil
}

// MessageHandler adapts the router to the client's handler signature.
func (r *Router) MessageHandler() mqttv3.MessageHandler {
	return func(_ *mqttv3.Client, msg *mqttv3.Message) { r.Route(msg) }
}

// Subscriber is satisfied by *mqttv3.Client.
type Subscriber interface {
	SubscribeMultiple(ctx context.Context, subs []mqttv3.Subscription, handler mqttv3.MessageHandler) ([]mqttv3.SubackReturnCode, error)
}

// Subscribe asks the broker for every filter in use at qos and hands what
// arrives to the router. It does nothing when no route names a topic.
func (r *Router) Subscribe(ctx context.Context, client Subscriber, qos mqttv3.QoS) error {
	filters := r.Filters()
	if len(filters) == 0 {
		return nil
	}

	subs := make([]mqttv3.Subscription, 0, len(filters))
	for _, f := range filters {
		subs = append(subs, mqttv3.Subscription{TopicFilter: f, QoS: qos})
	}
	_, err := client.SubscribeMultiple(ctx, subs, r.MessageHandler())
	return err
}
