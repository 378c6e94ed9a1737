package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Feed binds one consumer's lifetime to a single topic subscription on a
// shared Channel and accumulates what arrives. Deactivating a feed never
// disconnects the channel; the channel outlives any one consumer.
type Feed struct {
	ch      *Channel
	topic   string
	history History
	log     *zap.Logger

	connecting atomic.Bool

	mu         sync.Mutex
	active     bool
	stopListen func()
	onMessage  []func(Message)
}

// NewFeed creates an inactive feed for topic. A nil history gets an
// in-memory ring of default capacity.
func NewFeed(ch *Channel, topic string, history History, logger *zap.Logger) *Feed {
	if history == nil {
		history = NewRing(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{
		ch:      ch,
		topic:   topic,
		history: history,
		log:     logger.Named("feed").With(zap.String("topic", topic)),
	}
}

// Topic returns the feed's topic.
func (f *Feed) Topic() string { return f.topic }

// OnMessage registers fn to be called after each message is recorded.
func (f *Feed) OnMessage(fn func(Message)) {
	f.mu.Lock()
	f.onMessage = append(f.onMessage, fn)
	f.mu.Unlock()
}

// Activate connects the channel if nobody is already connecting it, then
// subscribes. When another caller's connect is in flight, the subscription
// is made once the channel reports connected.
func (f *Feed) Activate(ctx context.Context) error {
	f.mu.Lock()
	if f.active {
		f.mu.Unlock()
		return nil
	}
	f.active = true
	f.stopListen = f.ch.OnStateChange(f.onState)
	f.mu.Unlock()

	if !f.ch.IsConnected() && f.connecting.CompareAndSwap(false, true) {
		err := f.ch.Connect(ctx)
		f.connecting.Store(false)
		if err != nil && !errors.Is(err, ErrConnectInFlight) {
			return err
		}
	}

	if f.ch.IsConnected() && !f.ch.HasTopic(f.topic) {
		return f.subscribe()
	}
	return nil
}

// Deactivate cancels the subscription. The shared connection stays up.
func (f *Feed) Deactivate() {
	f.mu.Lock()
	if !f.active {
		f.mu.Unlock()
		return
	}
	f.active = false
	stop := f.stopListen
	f.stopListen = nil
	f.mu.Unlock()

	if stop != nil {
		stop()
	}
	f.ch.Unsubscribe(f.topic)
}

// Active reports whether the feed is activated.
func (f *Feed) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// Messages returns the recorded messages, most recent first.
func (f *Feed) Messages() []Message {
	return f.history.Snapshot()
}

// Connected reports the shared channel's connection state.
func (f *Feed) Connected() bool {
	return f.ch.IsConnected()
}

// Send transmits body through the shared channel.
func (f *Feed) Send(destination string, body any) Result {
	return f.ch.Send(destination, body)
}

func (f *Feed) onState(s State) {
	if s != StateConnected || !f.Active() {
		return
	}
	if f.ch.HasTopic(f.topic) {
		return
	}
	if err := f.subscribe(); err != nil {
		f.log.Warn("subscribe on connect", zap.Error(err))
	}
}

func (f *Feed) subscribe() error {
	_, err := f.ch.Subscribe(f.topic, f.record)
	return err
}

func (f *Feed) record(msg Message) {
	f.history.Push(msg)

	f.mu.Lock()
	fns := make([]func(Message), len(f.onMessage))
	copy(fns, f.onMessage)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(msg)
	}
}
