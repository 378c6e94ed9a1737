package engine

import (
	"context"
	"errors"
	"sync"

	"tiximax/realtime"
)

// fakeTransport hands out in-memory sessions. While down is set, Dial fails.
type fakeTransport struct {
	mu       sync.Mutex
	down     bool
	sessions []*fakeSession
}

func (t *fakeTransport) setDown(down bool) {
	t.mu.Lock()
	t.down = down
	t.mu.Unlock()
}

func (t *fakeTransport) Dial(ctx context.Context) (realtime.Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.down {
		return nil, errors.New("connection refused")
	}
	s := &fakeSession{subs: make(map[string]func([]byte)), done: make(chan struct{})}
	t.sessions = append(t.sessions, s)
	return s, nil
}

func (t *fakeTransport) last() *fakeSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sessions) == 0 {
		return nil
	}
	return t.sessions[len(t.sessions)-1]
}

type fakeSession struct {
	mu   sync.Mutex
	subs map[string]func([]byte)
	sent []string

	done      chan struct{}
	closeOnce sync.Once
}

func (s *fakeSession) Subscribe(topic string, deliver func([]byte)) (func() error, error) {
	s.mu.Lock()
	s.subs[topic] = deliver
	s.mu.Unlock()
	return func() error {
		s.mu.Lock()
		delete(s.subs, topic)
		s.mu.Unlock()
		return nil
	}, nil
}

func (s *fakeSession) Send(destination string, body []byte) error {
	s.mu.Lock()
	s.sent = append(s.sent, destination+" "+string(body))
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func (s *fakeSession) subscribed(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[topic] != nil
}

func (s *fakeSession) deliver(topic, body string) bool {
	s.mu.Lock()
	fn := s.subs[topic]
	s.mu.Unlock()
	if fn == nil {
		return false
	}
	fn([]byte(body))
	return true
}

func (s *fakeSession) Done() <-chan struct{} { return s.done }
func (s *fakeSession) Err() error            { return nil }

func (s *fakeSession) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
