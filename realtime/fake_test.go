package realtime

import (
	"context"
	"errors"
	"sync"
)

// fakeTransport records every transport interaction in call order.
type fakeTransport struct {
	mu       sync.Mutex
	calls    []string
	sessions []*fakeSession
	failDial error
	gate     chan struct{} // when non-nil, Dial blocks until it is closed
	dialing  chan struct{} // receives once per Dial entry
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (t *fakeTransport) record(call string) {
	t.mu.Lock()
	t.calls = append(t.calls, call)
	t.mu.Unlock()
}

func (t *fakeTransport) Calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.calls))
	copy(out, t.calls)
	return out
}

func (t *fakeTransport) Dial(ctx context.Context) (Session, error) {
	t.record("dial")

	t.mu.Lock()
	gate, dialing, failDial := t.gate, t.dialing, t.failDial
	t.mu.Unlock()

	if dialing != nil {
		dialing <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failDial != nil {
		return nil, failDial
	}

	s := &fakeSession{
		t:    t,
		subs: make(map[string]func([]byte)),
		done: make(chan struct{}),
	}
	t.mu.Lock()
	t.sessions = append(t.sessions, s)
	t.mu.Unlock()
	return s, nil
}

func (t *fakeTransport) SessionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

func (t *fakeTransport) Session(i int) *fakeSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[i]
}

func (t *fakeTransport) Last() *fakeSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[len(t.sessions)-1]
}

type sentMsg struct {
	destination string
	body        string
}

type fakeSession struct {
	t *fakeTransport

	mu      sync.Mutex
	subs    map[string]func([]byte)
	sent    []sentMsg
	sendErr error

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

func (s *fakeSession) Subscribe(topic string, deliver func([]byte)) (func() error, error) {
	s.t.record("subscribe " + topic)
	s.mu.Lock()
	s.subs[topic] = deliver
	s.mu.Unlock()
	return func() error {
		s.t.record("unsubscribe " + topic)
		s.mu.Lock()
		delete(s.subs, topic)
		s.mu.Unlock()
		return nil
	}, nil
}

func (s *fakeSession) Send(destination string, body []byte) error {
	s.t.record("send " + destination)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, sentMsg{destination: destination, body: string(body)})
	return nil
}

func (s *fakeSession) Sent() []sentMsg {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sentMsg, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *fakeSession) Done() <-chan struct{} { return s.done }

func (s *fakeSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeSession) Close() error {
	s.t.record("close")
	s.end(errors.New("closed"))
	return nil
}

// drop simulates an unexpected transport loss.
func (s *fakeSession) drop() {
	s.end(errors.New("connection reset"))
}

func (s *fakeSession) end(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

// deliver pushes body to the subscriber of topic; false when none exists.
func (s *fakeSession) deliver(topic string, body string) bool {
	s.mu.Lock()
	fn := s.subs[topic]
	s.mu.Unlock()
	if fn == nil {
		return false
	}
	fn([]byte(body))
	return true
}

func (s *fakeSession) deliverFunc(topic string) func([]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[topic]
}
