// Package redisfeed keeps realtime feed history in Redis so it survives
// restarts and is shared by every dashboard process.
package redisfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tiximax/logging"
	"tiximax/realtime"
)

const opTimeout = 2 * time.Second

var _ realtime.History = (*History)(nil)

func historyKey(topic string) string {
	return fmt.Sprintf("tiximax:feed:%s:history", topic)
}

// History is a bounded realtime.History stored as a Redis list, newest at
// the head. Redis errors are logged; the feed keeps working without history.
type History struct {
	client   *redis.Client
	key      string
	capacity int64
	log      *zap.Logger
}

// New returns a history for topic holding at most capacity messages.
func New(client *redis.Client, topic string, capacity int, log *zap.Logger) *History {
	if capacity <= 0 {
		capacity = 100
	}
	return &History{
		client:   client,
		key:      historyKey(topic),
		capacity: int64(capacity),
		log:      logging.OrNop(log).Named("redisfeed").With(zap.String("topic", topic)),
	}
}

// Push prepends msg and trims the list to capacity.
func (h *History) Push(msg realtime.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Warn("encode message", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	pipe := h.client.TxPipeline()
	pipe.LPush(ctx, h.key, data)
	pipe.LTrim(ctx, h.key, 0, h.capacity-1)
	if _, err := pipe.Exec(ctx); err != nil {
		h.log.Warn("push", zap.Error(err))
	}
}

// Snapshot returns the stored messages, most recent first.
func (h *History) Snapshot() []realtime.Message {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	items, err := h.client.LRange(ctx, h.key, 0, h.capacity-1).Result()
	if err != nil {
		h.log.Warn("snapshot", zap.Error(err))
		return nil
	}
	out := make([]realtime.Message, 0, len(items))
	for _, item := range items {
		var m realtime.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			h.log.Warn("decode message", zap.Error(err))
			continue
		}
		out = append(out, m)
	}
	return out
}

// Len returns the number of stored messages.
func (h *History) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	n, err := h.client.LLen(ctx, h.key).Result()
	if err != nil {
		h.log.Warn("len", zap.Error(err))
		return 0
	}
	return int(n)
}

// Clear removes the stored history.
func (h *History) Clear(ctx context.Context) error {
	return h.client.Del(ctx, h.key).Err()
}
