package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiximax/api"
	"tiximax/config"
	"tiximax/labels"
	"tiximax/realtime"
	"tiximax/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "engine.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Realtime.Topics = []string{"/topic/orders"}
	cfg.Realtime.SendDestination = "/app/orders"
	cfg.Realtime.ReconnectDelay = 20 * time.Millisecond
	cfg.Realtime.OutboxDrainInterval = 20 * time.Millisecond
	cfg.Labels.RenderDelay = 0
	return cfg
}

type printRecorder struct {
	mu   sync.Mutex
	jobs []labels.Job
	err  error
}

func (p *printRecorder) Print(_ context.Context, job labels.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, job)
	return p.err
}

func startEngine(t *testing.T, tr *fakeTransport, printer labels.Printer) *Engine {
	t.Helper()
	e := New(Config{
		AppConfig: testConfig(),
		DB:        testDB(t),
		Tokens:    api.StaticToken("tok"),
		Transport: tr,
		Printer:   printer,
	})
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(e.Stop)
	return e
}

func TestStartSubscribesFeedsAndPublishesMessages(t *testing.T) {
	tr := &fakeTransport{}
	e := startEngine(t, tr, &printRecorder{})

	assert.Equal(t, realtime.StateConnected, e.Channel().State())
	require.True(t, tr.last().subscribed("/topic/orders"))

	got := make(chan FeedMessageEvent, 1)
	e.Events.SubscribeTypes(func(evt Event) {
		got <- evt.Payload.(FeedMessageEvent)
	}, EventFeedMessage)

	require.True(t, tr.last().deliver("/topic/orders", `{"orderCode":"TX-1"}`))
	select {
	case msg := <-got:
		assert.Equal(t, "/topic/orders", msg.Topic)
		assert.Equal(t, map[string]any{"orderCode": "TX-1"}, msg.Message.Payload)
	case <-time.After(time.Second):
		t.Fatal("no feed message event")
	}

	f, err := e.Feed("/topic/orders")
	require.NoError(t, err)
	assert.Len(t, f.Messages(), 1)

	_, err = e.Feed("/topic/unknown")
	assert.ErrorIs(t, err, ErrUnknownFeed)
}

func TestSendWhileDownWithoutQueueIsDropped(t *testing.T) {
	tr := &fakeTransport{down: true}
	e := startEngine(t, tr, &printRecorder{})

	out, err := e.Send("", map[string]int{"a": 1}, false, "alice")
	require.NoError(t, err)
	assert.Equal(t, realtime.SendNotConnected, out.Result.Status)
	assert.False(t, out.Queued)

	n, err := e.DB().CountPendingOutbox()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQueuedSendIsDeliveredAfterReconnect(t *testing.T) {
	tr := &fakeTransport{down: true}
	e := startEngine(t, tr, &printRecorder{})
	assert.NotEqual(t, realtime.StateConnected, e.Channel().State())

	queued := make(chan OutboxQueuedEvent, 1)
	e.Events.SubscribeTypes(func(evt Event) {
		queued <- evt.Payload.(OutboxQueuedEvent)
	}, EventOutboxQueued)

	out, err := e.Send("", map[string]int{"a": 1}, true, "alice")
	require.NoError(t, err)
	assert.True(t, out.Queued)
	require.NotEmpty(t, out.MsgID)
	evt := <-queued
	assert.Equal(t, out.MsgID, evt.MsgID)
	assert.Equal(t, "/app/orders", evt.Destination)

	tr.setDown(false)
	require.Eventually(t, func() bool {
		s := tr.last()
		return s != nil && len(s.Sent()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, `/app/orders {"a":1}`, tr.last().Sent()[0])

	require.Eventually(t, func() bool {
		return tr.last().subscribed("/topic/orders")
	}, time.Second, 10*time.Millisecond, "feed subscribes once the channel comes up")

	require.Eventually(t, func() bool {
		msg, err := e.DB().GetOutbox(out.MsgID)
		return err == nil && msg.SentAt != nil
	}, time.Second, 10*time.Millisecond, "delivered message is acked")
}

func TestPrintRecordsJob(t *testing.T) {
	printer := &printRecorder{}
	e := startEngine(t, &fakeTransport{}, printer)

	codes, err := e.Desk().Generate(3)
	require.NoError(t, err)

	job, err := e.PrintOne(context.Background(), 1, "bob")
	require.NoError(t, err)
	assert.Equal(t, labels.NoScope, e.Desk().Scope())

	rec, err := e.DB().GetPrintJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "single(1)", rec.Scope)
	assert.Equal(t, []string{string(codes[1])}, rec.Codes)
	assert.Equal(t, "bob", rec.PrintedBy)
	assert.Empty(t, rec.Error)

	_, err = e.PrintOne(context.Background(), 9, "bob")
	assert.ErrorIs(t, err, labels.ErrIndexOutOfRange)
	jobs, err := e.DB().ListPrintJobs(10)
	require.NoError(t, err)
	assert.Len(t, jobs, 1, "rejected print leaves no record")
}

func TestPrintFailureIsRecorded(t *testing.T) {
	printer := &printRecorder{err: errors.New("paper jam")}
	e := startEngine(t, &fakeTransport{}, printer)
	_, err := e.Desk().Generate(2)
	require.NoError(t, err)

	job, err := e.PrintAll(context.Background(), "carol")
	require.Error(t, err)

	rec, err := e.DB().GetPrintJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "all", rec.Scope)
	assert.Equal(t, 2, rec.LabelCount)
	assert.Equal(t, "paper jam", rec.Error)
}

func TestHealth(t *testing.T) {
	e := startEngine(t, &fakeTransport{}, &printRecorder{})
	h := e.Health(context.Background())
	assert.True(t, h.OK())
	assert.Equal(t, "connected", h.Channel)
	assert.Equal(t, "stomp", h.Backend)
	assert.Equal(t, "sqlite", h.Database)
	assert.Equal(t, []string{"/topic/orders"}, h.Topics)
	assert.Zero(t, h.PendingOutbox)
}

func TestUnknownBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Realtime.Backend = "carrier-pigeon"
	e := New(Config{AppConfig: cfg, DB: testDB(t), Tokens: api.StaticToken("")})
	defer e.Stop()
	assert.Error(t, e.Start(context.Background()))
}
