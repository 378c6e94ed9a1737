package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Transport dials a broker session. Implementations live in the stomp, mqtt
// and kafka subpackages.
type Transport interface {
	Dial(ctx context.Context) (Session, error)
}

// Session is one live broker connection. Done is closed when the session
// ends for any reason; Err reports why.
type Session interface {
	Subscribe(topic string, deliver func(body []byte)) (cancel func() error, err error)
	Send(destination string, body []byte) error
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Message is an inbound message whose payload was decoded from JSON text.
type Message struct {
	Topic      string    `json:"topic"`
	Payload    any       `json:"payload"`
	Raw        []byte    `json:"-"`
	ReceivedAt time.Time `json:"received_at"`
}

// Handler receives decoded messages for one topic.
type Handler func(Message)

// SendStatus tags the outcome of a Send.
type SendStatus int

const (
	SendOK SendStatus = iota
	SendNotConnected
	SendEncodeFailed
	SendFailed
)

func (s SendStatus) String() string {
	switch s {
	case SendOK:
		return "ok"
	case SendNotConnected:
		return "not_connected"
	case SendEncodeFailed:
		return "encode_failed"
	case SendFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText lets the status appear by name in JSON responses.
func (s SendStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SendStatus) UnmarshalText(text []byte) error {
	for _, st := range []SendStatus{SendOK, SendNotConnected, SendEncodeFailed, SendFailed} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("realtime: unknown send status %q", text)
}

// Result is the outcome of Send. A failed send never panics or blocks the
// caller; the status says what happened.
type Result struct {
	Status SendStatus `json:"status"`
	Err    error      `json:"-"`
}

// OK reports whether the message reached the transport.
func (r Result) OK() bool { return r.Status == SendOK }

func encodeBody(body any) ([]byte, error) {
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
