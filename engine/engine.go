// Package engine wires the realtime channel, topic feeds, label desk,
// outbox drainer and back-end client into one running service.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tiximax/api"
	"tiximax/config"
	"tiximax/labels"
	"tiximax/logging"
	"tiximax/messaging"
	"tiximax/realtime"
	"tiximax/realtime/kafka"
	"tiximax/realtime/mqtt"
	"tiximax/realtime/redisfeed"
	"tiximax/realtime/stomp"
	"tiximax/store"
)

var ErrUnknownFeed = errors.New("engine: unknown feed topic")

// Engine centralizes the service's subsystems.
type Engine struct {
	cfg    *config.Config
	db     *store.DB
	log    *zap.Logger
	tokens api.TokenSource

	transport realtime.Transport
	printer   labels.Printer
	redis     *redis.Client

	channel *realtime.Channel
	feeds   map[string]*realtime.Feed
	desk    *labels.Desk
	drainer *messaging.OutboxDrainer
	client  *api.Client

	Events *EventBus

	stopOnce    sync.Once
	stopChan    chan struct{}
	wg          sync.WaitGroup
	removeState func()
}

// Config holds the parameters needed to create an Engine.
type Config struct {
	AppConfig *config.Config
	DB        *store.DB
	Logger    *zap.Logger
	// Tokens supplies the bearer token for the back end and the STOMP
	// CONNECT frame. Nil opens the file store at API.TokenPath.
	Tokens api.TokenSource
	// Transport overrides the backend selected by Realtime.Backend.
	Transport realtime.Transport
	// Printer overrides the spool printer.
	Printer labels.Printer
	// Source seeds the label generator; nil uses a random seed.
	Source rand.Source
}

// New creates a new Engine. Call Start to connect and start subsystems.
func New(c Config) *Engine {
	log := logging.OrNop(c.Logger)
	e := &Engine{
		cfg:       c.AppConfig,
		db:        c.DB,
		log:       log.Named("engine"),
		tokens:    c.Tokens,
		transport: c.Transport,
		printer:   c.Printer,
		feeds:     make(map[string]*realtime.Feed),
		Events:    NewEventBus(log),
		stopChan:  make(chan struct{}),
	}
	e.desk = labels.NewDesk(e.labelPrinter(), &labelEmitter{bus: e.Events}, labels.Options{
		Unique:      e.cfg.Labels.Unique,
		RenderDelay: e.cfg.Labels.RenderDelay,
		Source:      c.Source,
		Logger:      log,
	})
	return e
}

func (e *Engine) labelPrinter() labels.Printer {
	if e.printer != nil {
		return e.printer
	}
	return &labels.SpoolPrinter{Dir: e.cfg.Labels.SpoolDir}
}

// Start builds the channel and feeds, wires event handlers and activates
// every configured topic. A failed first connect is not fatal; the engine
// keeps retrying in the background.
func (e *Engine) Start(ctx context.Context) error {
	rc := e.cfg.Realtime

	if e.tokens == nil {
		tokens, err := api.OpenFileTokenStore(e.cfg.API.TokenPath)
		if err != nil {
			return err
		}
		e.tokens = tokens
	}
	e.client = api.NewClient(e.cfg.API.BaseURL, e.cfg.API.Timeout, e.tokens, e.log)

	if e.transport == nil {
		t, err := e.selectTransport()
		if err != nil {
			return err
		}
		e.transport = t
	}
	e.channel = realtime.NewChannel(e.transport, realtime.Options{
		ReconnectDelay:      rc.ReconnectDelay,
		ReplaySubscriptions: rc.ReplaySubscriptions,
		Logger:              e.log,
	})

	if rc.History == "redis" {
		e.redis = redis.NewClient(&redis.Options{
			Addr:     e.cfg.Redis.Address,
			Password: e.cfg.Redis.Password,
			DB:       e.cfg.Redis.DB,
		})
	}
	for _, topic := range rc.Topics {
		e.feeds[topic] = realtime.NewFeed(e.channel, topic, e.history(topic), e.log)
	}

	e.drainer = messaging.NewOutboxDrainer(e.db, e.channel, rc.OutboxDrainInterval, e.log)
	e.wireEventHandlers()
	e.drainer.Start()

	e.log.Info("engine starting",
		zap.String("backend", rc.Backend),
		zap.Strings("topics", rc.Topics),
		zap.String("history", historyKind(rc.History)),
	)

	if err := e.activateFeeds(ctx); err != nil {
		e.log.Warn("initial connect failed", zap.Error(err))
	}
	e.wg.Add(1)
	go e.keepConnected()
	return nil
}

func historyKind(h string) string {
	if h == "" {
		return "memory"
	}
	return h
}

func (e *Engine) selectTransport() (realtime.Transport, error) {
	rc := e.cfg.Realtime
	switch rc.Backend {
	case "", "stomp":
		return stomp.New(rc.STOMP, e.tokens.Token, e.log), nil
	case "mqtt":
		return mqtt.New(rc.MQTT, e.log), nil
	case "kafka":
		return kafka.New(rc.Kafka, e.log), nil
	default:
		return nil, fmt.Errorf("unknown realtime backend %q", rc.Backend)
	}
}

func (e *Engine) history(topic string) realtime.History {
	if e.redis != nil {
		return redisfeed.New(e.redis, topic, e.cfg.Realtime.FeedCapacity, e.log)
	}
	return realtime.NewRing(e.cfg.Realtime.FeedCapacity)
}

func (e *Engine) activateFeeds(ctx context.Context) error {
	var errs []error
	for _, topic := range e.cfg.Realtime.Topics {
		if err := e.feeds[topic].Activate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", topic, err))
		}
	}
	return errors.Join(errs...)
}

// keepConnected redials the channel when it sits in a failed state. The
// channel handles reconnects after an established session drops; this loop
// covers a failed first connect.
func (e *Engine) keepConnected() {
	defer e.wg.Done()
	delay := e.cfg.Realtime.ReconnectDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}
	ticker := time.NewTicker(delay)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			switch e.channel.State() {
			case realtime.StateErrored, realtime.StateDisconnected:
			default:
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), delay*2)
			go func() {
				select {
				case <-e.stopChan:
					cancel()
				case <-ctx.Done():
				}
			}()
			err := e.channel.Connect(ctx)
			cancel()
			if err != nil && !errors.Is(err, realtime.ErrConnectInFlight) {
				e.log.Debug("connect retry failed", zap.Error(err))
			}
		}
	}
}

// Stop shuts down all subsystems gracefully.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopChan)
		e.wg.Wait()
		if e.drainer != nil {
			e.drainer.Stop()
		}
		for _, f := range e.feeds {
			f.Deactivate()
		}
		if e.removeState != nil {
			e.removeState()
		}
		if e.channel != nil {
			e.channel.Disconnect()
		}
		if e.redis != nil {
			e.redis.Close()
		}
		e.log.Info("engine stopped")
	})
}

// SendOutcome reports what happened to a Send.
type SendOutcome struct {
	Result realtime.Result `json:"result"`
	Queued bool            `json:"queued"`
	MsgID  string          `json:"msg_id,omitempty"`
}

// Send publishes body to destination. An empty destination uses the
// configured default. When the channel is down and queue is set, the
// message is stored in the outbox and delivered after reconnect.
func (e *Engine) Send(destination string, body any, queue bool, user string) (SendOutcome, error) {
	if destination == "" {
		destination = e.cfg.Realtime.SendDestination
	}
	res := e.channel.Send(destination, body)
	out := SendOutcome{Result: res}
	if res.Status != realtime.SendNotConnected || !queue {
		return out, nil
	}

	payload, err := queuedPayload(body)
	if err != nil {
		return out, fmt.Errorf("encode queued message: %w", err)
	}
	msgID, err := e.db.EnqueueOutbox(destination, payload, user)
	if err != nil {
		return out, fmt.Errorf("queue message: %w", err)
	}
	out.Queued = true
	out.MsgID = msgID
	e.Events.Emit(Event{Type: EventOutboxQueued, Payload: OutboxQueuedEvent{MsgID: msgID, Destination: destination}})
	return out, nil
}

// queuedPayload encodes body the way the channel would put it on the wire.
func queuedPayload(body any) ([]byte, error) {
	switch b := body.(type) {
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return json.Marshal(body)
	}
}

// PrintAll prints every label in the batch and records the job.
func (e *Engine) PrintAll(ctx context.Context, user string) (labels.Job, error) {
	job, err := e.desk.PrintAll(ctx)
	e.recordJob(job, err, user)
	return job, err
}

// PrintOne prints the label at index and records the job.
func (e *Engine) PrintOne(ctx context.Context, index int, user string) (labels.Job, error) {
	job, err := e.desk.PrintOne(ctx, index)
	e.recordJob(job, err, user)
	return job, err
}

func (e *Engine) recordJob(job labels.Job, printErr error, user string) {
	if job.ID == "" {
		return
	}
	printed := job.Printed()
	codes := make([]string, len(printed))
	for i, l := range printed {
		codes[i] = string(l.Code)
	}
	rec := &store.PrintJob{
		JobID:      job.ID,
		Scope:      job.Scope.String(),
		Codes:      codes,
		LabelCount: len(printed),
		PrintedBy:  user,
	}
	if printErr != nil {
		rec.Error = printErr.Error()
	}
	if err := e.db.RecordPrintJob(rec); err != nil {
		e.log.Error("record print job", zap.String("job", job.ID), zap.Error(err))
	}
}

// Health is a snapshot of the service's moving parts.
type Health struct {
	Channel       string   `json:"channel"`
	Backend       string   `json:"backend"`
	Topics        []string `json:"topics"`
	Database      string   `json:"database"`
	DatabaseError string   `json:"database_error,omitempty"`
	PendingOutbox int      `json:"pending_outbox"`
	BatchSize     int      `json:"batch_size"`
}

// Health reports the channel state, database reachability and outbox depth.
func (e *Engine) Health(ctx context.Context) Health {
	h := Health{
		Channel:   e.channel.State().String(),
		Backend:   backendName(e.cfg.Realtime.Backend),
		Topics:    e.channel.Topics(),
		Database:  e.db.Driver(),
		BatchSize: len(e.desk.Batch()),
	}
	if err := e.db.PingContext(ctx); err != nil {
		h.DatabaseError = err.Error()
	}
	if n, err := e.db.CountPendingOutbox(); err == nil {
		h.PendingOutbox = n
	}
	return h
}

// OK reports whether the database answered.
func (h Health) OK() bool { return h.DatabaseError == "" }

func backendName(b string) string {
	if b == "" {
		return "stomp"
	}
	return b
}

// Feed returns the feed bound to topic.
func (e *Engine) Feed(topic string) (*realtime.Feed, error) {
	f, ok := e.feeds[topic]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeed, topic)
	}
	return f, nil
}

// FeedTopics returns the configured feed topics in sorted order.
func (e *Engine) FeedTopics() []string {
	topics := make([]string, 0, len(e.feeds))
	for t := range e.feeds {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// DB returns the database handle.
func (e *Engine) DB() *store.DB { return e.db }

// AppConfig returns the app config.
func (e *Engine) AppConfig() *config.Config { return e.cfg }

// Channel returns the shared realtime channel.
func (e *Engine) Channel() *realtime.Channel { return e.channel }

// Desk returns the label desk.
func (e *Engine) Desk() *labels.Desk { return e.desk }

// Client returns the back-end API client.
func (e *Engine) Client() *api.Client { return e.client }

// Tokens returns the bearer token source.
func (e *Engine) Tokens() api.TokenSource { return e.tokens }

// Drainer returns the outbox drainer.
func (e *Engine) Drainer() *messaging.OutboxDrainer { return e.drainer }
