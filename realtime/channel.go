package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrNotConnected    = errors.New("realtime: not connected")
	ErrConnectInFlight = errors.New("realtime: connect already in progress")
)

const defaultReconnectDelay = 5 * time.Second

// Options configures a Channel.
type Options struct {
	// ReconnectDelay is the fixed wait between redial attempts after the
	// session drops.
	ReconnectDelay time.Duration
	// ReplaySubscriptions re-registers every known topic on the new session
	// after an automatic reconnect. When false, registrations are dropped
	// with the session.
	ReplaySubscriptions bool
	Logger              *zap.Logger
}

type registration struct {
	topic   string
	handler Handler
	cancel  func() error // nil until bound to the current session
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	ch  *Channel
	reg *registration
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string { return s.reg.topic }

// Cancel removes the registration if it is still the active one for its topic.
func (s *Subscription) Cancel() {
	s.ch.remove(s.reg)
}

// Channel owns one logical connection to the push-messaging endpoint and
// multiplexes named topics to handlers. It reconnects on its own after an
// unexpected session loss until Disconnect is called.
type Channel struct {
	transport Transport
	opts      Options
	log       *zap.Logger

	mu           sync.Mutex
	state        State
	session      Session
	regs         map[string]*registration
	stopCh       chan struct{} // closed by Disconnect
	reconnecting bool

	listenMu     sync.RWMutex
	listeners    map[int]func(State)
	nextListener int

	wg sync.WaitGroup
}

// NewChannel creates a disconnected channel over the given transport.
func NewChannel(t Transport, opts Options) *Channel {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	l := opts.Logger
	if l == nil {
		l = zap.NewNop()
	}
	return &Channel{
		transport: t,
		opts:      opts,
		log:       l.Named("realtime"),
		regs:      make(map[string]*registration),
		listeners: make(map[int]func(State)),
	}
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether a session is live.
func (c *Channel) IsConnected() bool {
	return c.State() == StateConnected
}

// Topics returns the registered topics in sorted order.
func (c *Channel) Topics() []string {
	c.mu.Lock()
	topics := make([]string, 0, len(c.regs))
	for t := range c.regs {
		topics = append(topics, t)
	}
	c.mu.Unlock()
	sort.Strings(topics)
	return topics
}

// HasTopic reports whether topic has a registration.
func (c *Channel) HasTopic(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.regs[topic]
	return ok
}

// OnStateChange registers fn to be called after every state transition.
// Listeners run on the goroutine that caused the transition and must not
// call Disconnect.
func (c *Channel) OnStateChange(fn func(State)) (remove func()) {
	c.listenMu.Lock()
	c.nextListener++
	id := c.nextListener
	c.listeners[id] = fn
	c.listenMu.Unlock()
	return func() {
		c.listenMu.Lock()
		delete(c.listeners, id)
		c.listenMu.Unlock()
	}
}

func (c *Channel) emit(s State) {
	c.listenMu.RLock()
	fns := make([]func(State), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenMu.RUnlock()
	for _, fn := range fns {
		fn(s)
	}
}

// Connect establishes the transport session. It returns once the handshake
// completes, or with the handshake error.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.state == StateConnected:
		c.mu.Unlock()
		return nil
	case c.state == StateConnecting || c.reconnecting:
		c.mu.Unlock()
		return ErrConnectInFlight
	}
	c.state = StateConnecting
	stop := make(chan struct{})
	c.stopCh = stop
	c.mu.Unlock()
	c.emit(StateConnecting)

	sess, err := c.transport.Dial(ctx)

	c.mu.Lock()
	if stopped(stop) {
		// Disconnect ran while dialing
		c.mu.Unlock()
		if sess != nil {
			sess.Close()
		}
		return ErrNotConnected
	}
	if err != nil {
		c.state = StateErrored
		c.stopCh = nil
		c.mu.Unlock()
		c.log.Warn("connect failed", zap.Error(err))
		c.emit(StateErrored)
		return fmt.Errorf("realtime connect: %w", err)
	}
	regs := c.attachLocked(sess)
	c.mu.Unlock()

	c.bindAll(sess, regs)
	c.log.Info("connected")
	c.emit(StateConnected)

	c.wg.Add(1)
	go c.supervise(sess, stop)
	return nil
}

// attachLocked installs sess as the live session and returns the
// registrations that must be bound to it.
func (c *Channel) attachLocked(sess Session) []*registration {
	c.session = sess
	c.state = StateConnected
	c.reconnecting = false
	regs := make([]*registration, 0, len(c.regs))
	for _, r := range c.regs {
		regs = append(regs, r)
	}
	return regs
}

func (c *Channel) bindAll(sess Session, regs []*registration) {
	for _, r := range regs {
		if err := c.bind(sess, r); err != nil {
			c.log.Warn("re-subscribe failed", zap.String("topic", r.topic), zap.Error(err))
		}
	}
}

// bind subscribes reg on sess and records the cancel func if reg and sess
// are still current.
func (c *Channel) bind(sess Session, reg *registration) error {
	cancel, err := sess.Subscribe(reg.topic, c.deliverer(reg))
	if err != nil {
		return err
	}
	c.mu.Lock()
	current := c.session == sess && c.regs[reg.topic] == reg
	if current {
		reg.cancel = cancel
	}
	c.mu.Unlock()
	if !current {
		cancel()
	}
	return nil
}

// Subscribe registers handler for topic. It requires a live connection;
// otherwise it logs and returns ErrNotConnected with a nil handle. A second
// subscribe on the same topic replaces the first.
func (c *Channel) Subscribe(topic string, handler Handler) (*Subscription, error) {
	c.mu.Lock()
	if c.state != StateConnected || c.session == nil {
		c.mu.Unlock()
		c.log.Warn("subscribe before connect", zap.String("topic", topic))
		return nil, ErrNotConnected
	}
	sess := c.session
	var oldCancel func() error
	if old, ok := c.regs[topic]; ok {
		oldCancel = old.cancel
		old.cancel = nil
	}
	reg := &registration{topic: topic, handler: handler}
	c.regs[topic] = reg
	c.mu.Unlock()

	if oldCancel != nil {
		if err := oldCancel(); err != nil {
			c.log.Debug("cancel replaced subscription", zap.String("topic", topic), zap.Error(err))
		}
	}

	if err := c.bind(sess, reg); err != nil {
		c.mu.Lock()
		if c.regs[topic] == reg {
			delete(c.regs, topic)
		}
		c.mu.Unlock()
		return nil, fmt.Errorf("realtime subscribe %s: %w", topic, err)
	}
	c.log.Debug("subscribed", zap.String("topic", topic))
	return &Subscription{ch: c, reg: reg}, nil
}

// Unsubscribe cancels delivery for topic and removes its registration.
func (c *Channel) Unsubscribe(topic string) {
	c.mu.Lock()
	reg, ok := c.regs[topic]
	c.mu.Unlock()
	if ok {
		c.remove(reg)
	}
}

func (c *Channel) remove(reg *registration) {
	c.mu.Lock()
	if c.regs[reg.topic] != reg {
		c.mu.Unlock()
		return
	}
	delete(c.regs, reg.topic)
	cancel := reg.cancel
	reg.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		if err := cancel(); err != nil {
			c.log.Debug("unsubscribe", zap.String("topic", reg.topic), zap.Error(err))
		}
	}
	c.log.Debug("unsubscribed", zap.String("topic", reg.topic))
}

func (c *Channel) deliverer(reg *registration) func([]byte) {
	return func(body []byte) {
		c.mu.Lock()
		current := c.regs[reg.topic] == reg
		c.mu.Unlock()
		if !current {
			return
		}

		var payload any
		if err := json.Unmarshal(body, &payload); err != nil {
			c.log.Warn("dropping malformed message", zap.String("topic", reg.topic), zap.Error(err))
			return
		}
		msg := Message{
			Topic:      reg.topic,
			Payload:    payload,
			Raw:        body,
			ReceivedAt: time.Now(),
		}

		defer func() {
			if r := recover(); r != nil {
				c.log.Error("handler panic", zap.String("topic", reg.topic), zap.Any("panic", r))
			}
		}()
		reg.handler(msg)
	}
}

// Send encodes body as JSON and transmits it to destination. Byte slices and
// strings are sent verbatim. Sending while disconnected does not touch the
// transport and returns SendNotConnected.
func (c *Channel) Send(destination string, body any) Result {
	c.mu.Lock()
	sess := c.session
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || sess == nil {
		c.log.Warn("send while disconnected, dropped", zap.String("destination", destination))
		return Result{Status: SendNotConnected, Err: ErrNotConnected}
	}

	data, err := encodeBody(body)
	if err != nil {
		c.log.Warn("send encode", zap.String("destination", destination), zap.Error(err))
		return Result{Status: SendEncodeFailed, Err: err}
	}
	if err := sess.Send(destination, data); err != nil {
		c.log.Warn("send", zap.String("destination", destination), zap.Error(err))
		return Result{Status: SendFailed, Err: err}
	}
	return Result{Status: SendOK}
}

// Disconnect tears down the session, stops reconnecting and clears every
// registration. Send and Subscribe are no-ops until the next Connect.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	stop := c.stopCh
	c.stopCh = nil
	sess := c.session
	c.session = nil
	c.regs = make(map[string]*registration)
	prev := c.state
	c.state = StateDisconnected
	c.reconnecting = false
	c.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if sess != nil {
		if err := sess.Close(); err != nil {
			c.log.Debug("session close", zap.Error(err))
		}
	}
	c.wg.Wait()

	if prev != StateDisconnected {
		c.log.Info("disconnected")
		c.emit(StateDisconnected)
	}
}

// supervise waits for the session to end and redials on a fixed delay.
func (c *Channel) supervise(sess Session, stop chan struct{}) {
	defer c.wg.Done()

	for {
		select {
		case <-stop:
			return
		case <-sess.Done():
		}

		c.mu.Lock()
		if c.session != sess {
			c.mu.Unlock()
			return
		}
		c.session = nil
		c.state = StateDisconnected
		c.reconnecting = true
		for _, r := range c.regs {
			r.cancel = nil
		}
		if !c.opts.ReplaySubscriptions {
			c.regs = make(map[string]*registration)
		}
		c.mu.Unlock()

		c.log.Warn("connection lost", zap.Error(sess.Err()))
		c.emit(StateDisconnected)

		next := c.redial(stop)
		if next == nil {
			return
		}
		sess = next
	}
}

// redial retries Dial every ReconnectDelay until it succeeds or stop closes.
func (c *Channel) redial(stop chan struct{}) Session {
	attempt := 0
	for {
		timer := time.NewTimer(c.opts.ReconnectDelay)
		select {
		case <-stop:
			timer.Stop()
			return nil
		case <-timer.C:
		}

		attempt++
		if !c.setStateUnlessStopped(StateConnecting, stop) {
			return nil
		}
		c.log.Info("reconnecting", zap.Int("attempt", attempt))
		c.emit(StateConnecting)

		ctx, cancel := contextUntil(stop)
		sess, err := c.transport.Dial(ctx)
		cancel()
		if err != nil {
			c.log.Warn("reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
			if !c.setStateUnlessStopped(StateErrored, stop) {
				return nil
			}
			c.emit(StateErrored)
			continue
		}

		c.mu.Lock()
		if stopped(stop) {
			c.mu.Unlock()
			sess.Close()
			return nil
		}
		regs := c.attachLocked(sess)
		c.mu.Unlock()

		c.bindAll(sess, regs)
		c.log.Info("reconnected", zap.Int("attempt", attempt), zap.Int("topics", len(regs)))
		c.emit(StateConnected)
		return sess
	}
}

func (c *Channel) setStateUnlessStopped(s State, stop chan struct{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if stopped(stop) {
		return false
	}
	c.state = s
	return true
}

func stopped(stop chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// contextUntil returns a context cancelled when stop closes.
func contextUntil(stop chan struct{}) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
