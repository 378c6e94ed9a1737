// Package messaging retries realtime sends that were queued while the
// channel was down.
package messaging

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"tiximax/logging"
	"tiximax/realtime"
	"tiximax/store"
)

const (
	drainBatch      = 50
	defaultInterval = 5 * time.Second
)

// Sender is the part of realtime.Channel the drainer uses.
type Sender interface {
	IsConnected() bool
	Send(destination string, body any) realtime.Result
}

// OutboxStore is the part of store.DB the drainer uses.
type OutboxStore interface {
	ListPendingOutbox(limit int) ([]*store.OutboxMessage, error)
	AckOutbox(id int64) error
	FailOutbox(id int64, reason string) error
}

// OutboxDrainer periodically sends pending outbox messages.
type OutboxDrainer struct {
	db       OutboxStore
	sender   Sender
	interval time.Duration
	log      *zap.Logger

	kick     chan struct{}
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewOutboxDrainer creates a new outbox drainer.
func NewOutboxDrainer(db OutboxStore, sender Sender, interval time.Duration, log *zap.Logger) *OutboxDrainer {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &OutboxDrainer{
		db:       db,
		sender:   sender,
		interval: interval,
		log:      logging.OrNop(log).Named("outbox"),
		kick:     make(chan struct{}, 1),
		stopChan: make(chan struct{}),
	}
}

// Start begins the outbox drain loop.
func (d *OutboxDrainer) Start() {
	d.wg.Add(1)
	go d.drainLoop()
}

// Stop stops the outbox drain loop.
func (d *OutboxDrainer) Stop() {
	d.stopOnce.Do(func() { close(d.stopChan) })
	d.wg.Wait()
}

// Kick asks for a drain without waiting for the next tick, e.g. right after
// the channel reconnects.
func (d *OutboxDrainer) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

func (d *OutboxDrainer) drainLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopChan:
			return
		case <-ticker.C:
			d.Drain()
		case <-d.kick:
			d.Drain()
		}
	}
}

// Drain sends one batch of pending messages and returns how many went out.
func (d *OutboxDrainer) Drain() int {
	if !d.sender.IsConnected() {
		return 0
	}

	msgs, err := d.db.ListPendingOutbox(drainBatch)
	if err != nil {
		d.log.Warn("list pending", zap.Error(err))
		return 0
	}

	sent := 0
	for _, msg := range msgs {
		res := d.sender.Send(msg.Destination, json.RawMessage(msg.Payload))
		if !res.OK() {
			reason := res.Status.String()
			if res.Err != nil {
				reason = res.Err.Error()
			}
			d.log.Warn("send failed", zap.String("msg", msg.MsgID), zap.String("destination", msg.Destination), zap.String("reason", reason))
			if err := d.db.FailOutbox(msg.ID, reason); err != nil {
				d.log.Warn("record failure", zap.String("msg", msg.MsgID), zap.Error(err))
			}
			if res.Status == realtime.SendNotConnected {
				break
			}
			continue
		}
		if err := d.db.AckOutbox(msg.ID); err != nil {
			d.log.Warn("ack", zap.String("msg", msg.MsgID), zap.Error(err))
			continue
		}
		sent++
	}
	if sent > 0 {
		d.log.Info("drained", zap.Int("sent", sent))
	}
	return sent
}
