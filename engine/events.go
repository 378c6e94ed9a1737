package engine

import (
	"time"

	"tiximax/labels"
	"tiximax/realtime"
)

// EventType identifies the kind of event emitted by the Engine.
type EventType int

const (
	// Realtime events
	EventChannelState EventType = iota + 1
	EventFeedMessage

	// Label events
	EventBatchGenerated
	EventScopeChanged
	EventLabelsPrinted

	// Outbox events
	EventOutboxQueued
)

func (t EventType) String() string {
	switch t {
	case EventChannelState:
		return "channel-state"
	case EventFeedMessage:
		return "feed-message"
	case EventBatchGenerated:
		return "batch-generated"
	case EventScopeChanged:
		return "scope-changed"
	case EventLabelsPrinted:
		return "labels-printed"
	case EventOutboxQueued:
		return "outbox-queued"
	default:
		return "unknown"
	}
}

// Event is the envelope emitted by the Engine's EventBus.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   any
}

// ChannelStateEvent is emitted on every realtime channel transition.
type ChannelStateEvent struct {
	State string `json:"state"`
}

// FeedMessageEvent is emitted for each message a feed records.
type FeedMessageEvent struct {
	Topic   string           `json:"topic"`
	Message realtime.Message `json:"message"`
}

// BatchGeneratedEvent is emitted when the label desk gets a new batch.
type BatchGeneratedEvent struct {
	Codes []labels.Code `json:"codes"`
}

// ScopeChangedEvent is emitted when the print scope changes.
type ScopeChangedEvent struct {
	From labels.Scope `json:"from"`
	To   labels.Scope `json:"to"`
}

// LabelsPrintedEvent is emitted after a print job ran.
type LabelsPrintedEvent struct {
	JobID  string `json:"job_id"`
	Scope  string `json:"scope"`
	Labels int    `json:"labels"`
	Error  string `json:"error,omitempty"`
}

// OutboxQueuedEvent is emitted when a send is queued for later delivery.
type OutboxQueuedEvent struct {
	MsgID       string `json:"msg_id"`
	Destination string `json:"destination"`
}
