// Package bus is a small in-process pub/sub message bus with MQTT-style
// topic matching, retained messages and request/reply.
//
// Topics are token slices rather than strings, so services can publish
// integer ids without formatting: bus.T("hal", "capability", "moisture", 1).
// Tokens are matched with ==; T panics early on non-comparable tokens.
//
// Delivery is per-subscription and non-blocking: each subscription owns a
// buffered channel and the oldest message is dropped when it overflows.
// Slow consumers lose data, they never stall the publisher.
package bus

import (
	"context"
	"sync"
	"sync/atomic"
)

// Token is one element of a topic. Must be comparable (string, int, ...).
type Token = any

// Topic is an ordered token path, e.g. Topic{"config", "hal"}.
type Topic []Token

// T builds a Topic and panics if any token is not comparable.
func T(tokens ...Token) Topic {
	t := make(Topic, len(tokens))
	for i, tok := range tokens {
		if !comparableToken(tok) {
			panic("bus: topic token is not comparable")
		}
		t[i] = tok
	}
	return t
}

func comparableToken(v Token) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	_ = map[Token]struct{}{v: {}}
	return true
}

func topicsEqual(a, b Topic) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Message is the unit of delivery. ReplyTo is set by Request/RequestWait so
// a responder can address the requester directly via Reply.
type Message struct {
	Topic    Topic
	Payload  any
	Retained bool
	ReplyTo  Topic
}

// CanReply reports whether the message carries a reply address.
func (m *Message) CanReply() bool { return len(m.ReplyTo) > 0 }

// noWild is a token value no caller can produce; it disables a wildcard slot.
type noWild struct{ byte }

// Bus owns the subscription table and the retained store.
type Bus struct {
	mu       sync.Mutex
	subs     []*Subscription
	retained []*Message

	queueLen int
	plus     Token // single-level wildcard
	hash     Token // multi-level (terminal) wildcard

	replySeq atomic.Uint32
}

// NewBus creates a bus. queueLen is the per-subscription channel depth.
// By default "+" matches exactly one token and "#", in terminal position,
// matches zero or more; pass explicit wildcard tokens to override.
func NewBus(queueLen int, wildcards ...Token) *Bus {
	if queueLen < 1 {
		queueLen = 1
	}
	b := &Bus{queueLen: queueLen, plus: "+", hash: "#"}
	if len(wildcards) > 0 {
		b.plus = wildcards[0]
		b.hash = noWild{}
	}
	if len(wildcards) > 1 {
		b.hash = wildcards[1]
	}
	return b
}

// NewConnection registers a named client. The name is only for diagnostics.
func (b *Bus) NewConnection(name string) *Connection {
	return &Connection{bus: b, name: name}
}

// NewMessage is a convenience constructor.
func (b *Bus) NewMessage(topic Topic, payload any, retained bool) *Message {
	return &Message{Topic: topic, Payload: payload, Retained: retained}
}

// matches reports whether pattern pat accepts topic.
func (b *Bus) matches(pat, topic Topic) bool {
	i := 0
	for ; i < len(pat); i++ {
		pt := pat[i]
		if pt == b.hash {
			// Terminal "#" matches any remainder, including none.
			return i == len(pat)-1
		}
		if i >= len(topic) {
			return false
		}
		if pt == b.plus {
			continue
		}
		if pt != topic[i] {
			return false
		}
	}
	return i == len(topic)
}

func (b *Bus) publish(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if msg.Retained {
		b.storeRetained(msg)
		if msg.Payload == nil {
			return
		}
	}
	for _, s := range b.subs {
		if b.matches(s.topic, msg.Topic) {
			s.deliver(msg)
		}
	}
}

// storeRetained replaces the retained message for msg's exact topic.
// A nil payload clears the slot.
func (b *Bus) storeRetained(msg *Message) {
	for i, r := range b.retained {
		if topicsEqual(r.Topic, msg.Topic) {
			if msg.Payload == nil {
				b.retained = append(b.retained[:i], b.retained[i+1:]...)
			} else {
				b.retained[i] = msg
			}
			return
		}
	}
	if msg.Payload != nil {
		b.retained = append(b.retained, msg)
	}
}

func (b *Bus) subscribe(conn *Connection, topic Topic) *Subscription {
	s := &Subscription{
		conn:  conn,
		topic: topic,
		ch:    make(chan *Message, b.queueLen),
	}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	// Replay retained messages into the fresh channel.
	for _, r := range b.retained {
		if b.matches(topic, r.Topic) {
			s.deliver(r)
		}
	}
	b.mu.Unlock()
	return s
}

func (b *Bus) unsubscribe(s *Subscription) {
	b.mu.Lock()
	for i, cur := range b.subs {
		if cur == s {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(s.ch)
			break
		}
	}
	b.mu.Unlock()
}

// Subscription is one topic filter bound to one connection.
type Subscription struct {
	conn  *Connection
	topic Topic
	ch    chan *Message
}

// Channel returns the delivery channel. It is closed on Unsubscribe.
func (s *Subscription) Channel() <-chan *Message { return s.ch }

// Topic returns the subscribed filter.
func (s *Subscription) Topic() Topic { return s.topic }

// deliver enqueues without blocking, dropping the oldest message on overflow.
// Caller holds the bus mutex, so close cannot race the sends.
func (s *Subscription) deliver(msg *Message) {
	select {
	case s.ch <- msg:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- msg:
	default:
	}
}

// Connection is a client handle. All subscriptions made through it are
// released together by Disconnect.
type Connection struct {
	bus  *Bus
	name string

	mu   sync.Mutex
	subs []*Subscription
}

// Name returns the diagnostic name given to NewConnection.
func (c *Connection) Name() string { return c.name }

// NewMessage is a convenience constructor.
func (c *Connection) NewMessage(topic Topic, payload any, retained bool) *Message {
	return &Message{Topic: topic, Payload: payload, Retained: retained}
}

// Publish delivers msg to all matching subscriptions on the bus.
func (c *Connection) Publish(msg *Message) { c.bus.publish(msg) }

// Subscribe registers a topic filter and returns its subscription.
func (c *Connection) Subscribe(topic Topic) *Subscription {
	s := c.bus.subscribe(c, topic)
	c.mu.Lock()
	c.subs = append(c.subs, s)
	c.mu.Unlock()
	return s
}

// Unsubscribe removes the subscription and closes its channel.
func (c *Connection) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	c.bus.unsubscribe(s)
	c.mu.Lock()
	for i, cur := range c.subs {
		if cur == s {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
}

// Disconnect releases every subscription held by the connection.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()
	for _, s := range subs {
		c.bus.unsubscribe(s)
	}
}

// Reply publishes payload to the request's ReplyTo topic.
func (c *Connection) Reply(req *Message, payload any, retained bool) {
	if req == nil || !req.CanReply() {
		return
	}
	c.Publish(&Message{Topic: req.ReplyTo, Payload: payload, Retained: retained})
}

// Request stamps msg with a fresh ReplyTo, subscribes to it, publishes msg
// and returns the reply subscription. The caller must Unsubscribe it.
func (c *Connection) Request(msg *Message) *Subscription {
	seq := c.bus.replySeq.Add(1)
	msg.ReplyTo = Topic{"$reply", c.name, int(seq)}
	sub := c.Subscribe(msg.ReplyTo)
	c.Publish(msg)
	return sub
}

// RequestWait performs Request and blocks for the first reply or ctx expiry.
func (c *Connection) RequestWait(ctx context.Context, msg *Message) (*Message, error) {
	sub := c.Request(msg)
	defer c.Unsubscribe(sub)
	select {
	case reply, ok := <-sub.Channel():
		if !ok {
			return nil, context.Canceled
		}
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
