// Package stomp dials STOMP 1.2 sessions over a WebSocket, optionally
// wrapped in SockJS framing, for the realtime channel.
package stomp

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	gostomp "github.com/go-stomp/stomp/v3"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tiximax/config"
	"tiximax/logging"
	"tiximax/realtime"
)

const (
	contentTypeJSON = "application/json"
	unsubscribeWait = 5 * time.Second
)

// Transport implements realtime.Transport for a STOMP broker endpoint.
type Transport struct {
	cfg    config.STOMPConfig
	token  func() string
	dialer *websocket.Dialer
	log    *zap.Logger
}

// New creates a STOMP transport. token, when non-nil and non-empty, is sent
// as a bearer Authorization header on the CONNECT frame.
func New(cfg config.STOMPConfig, token func() string, log *zap.Logger) *Transport {
	return &Transport{
		cfg:   cfg,
		token: token,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.ConnectTimeout,
		},
		log: logging.OrNop(log).Named("stomp"),
	}
}

// Dial opens the websocket and completes the STOMP handshake.
func (t *Transport) Dial(ctx context.Context) (realtime.Session, error) {
	endpoint, err := endpointURL(t.cfg.URL, t.cfg.SockJS)
	if err != nil {
		return nil, err
	}
	if t.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.ConnectTimeout)
		defer cancel()
	}

	ws, resp, err := t.dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("stomp: dial %s: %w", endpoint, err)
	}
	wc := newWSConn(ws, t.cfg.SockJS)

	type result struct {
		conn *gostomp.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := gostomp.Connect(wc, t.options()...)
		done <- result{conn, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			wc.Close()
			return nil, fmt.Errorf("stomp: handshake: %w", r.err)
		}
		t.log.Info("connected", zap.String("endpoint", endpoint), zap.String("version", string(r.conn.Version())))
		return newSession(r.conn, wc, t.log), nil
	case <-ctx.Done():
		wc.Close()
		<-done
		return nil, fmt.Errorf("stomp: handshake: %w", ctx.Err())
	}
}

func (t *Transport) options() []func(*gostomp.Conn) error {
	opts := []func(*gostomp.Conn) error{
		gostomp.ConnOpt.HeartBeat(t.cfg.HeartbeatOut, t.cfg.HeartbeatIn),
	}
	if t.cfg.Host != "" {
		opts = append(opts, gostomp.ConnOpt.Host(t.cfg.Host))
	}
	if t.cfg.Login != "" {
		opts = append(opts, gostomp.ConnOpt.Login(t.cfg.Login, t.cfg.Passcode))
	}
	if t.token != nil {
		if tok := t.token(); tok != "" {
			opts = append(opts, gostomp.ConnOpt.Header("Authorization", "Bearer "+tok))
		}
	}
	return opts
}

// session adapts a connected go-stomp Conn to realtime.Session.
type session struct {
	conn *gostomp.Conn
	ws   *wsConn
	log  *zap.Logger

	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newSession(conn *gostomp.Conn, ws *wsConn, log *zap.Logger) *session {
	return &session{conn: conn, ws: ws, log: log}
}

func (s *session) Subscribe(topic string, deliver func([]byte)) (func() error, error) {
	sub, err := s.conn.Subscribe(topic, gostomp.AckAuto)
	if err != nil {
		return nil, fmt.Errorf("stomp: subscribe %s: %w", topic, err)
	}

	quit := make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-quit:
				return
			case <-s.ws.Done():
				return
			case msg, ok := <-sub.C:
				if !ok {
					return
				}
				if msg.Err != nil {
					s.log.Debug("subscription ended", zap.String("topic", topic), zap.Error(msg.Err))
					return
				}
				deliver(msg.Body)
			}
		}
	}()

	var once sync.Once
	return func() error {
		var err error
		once.Do(func() {
			close(quit)
			err = s.unsubscribe(sub)
		})
		return err
	}, nil
}

// unsubscribe waits for the broker's receipt, but not past unsubscribeWait
// or the end of the session.
func (s *session) unsubscribe(sub *gostomp.Subscription) error {
	res := make(chan error, 1)
	go func() { res <- sub.Unsubscribe() }()

	timer := time.NewTimer(unsubscribeWait)
	defer timer.Stop()
	select {
	case err := <-res:
		return err
	case <-s.ws.Done():
		return s.ws.Err()
	case <-timer.C:
		return fmt.Errorf("stomp: unsubscribe %s: no receipt after %s", sub.Destination(), unsubscribeWait)
	}
}

func (s *session) Send(destination string, body []byte) error {
	if err := s.conn.Send(destination, contentTypeJSON, body); err != nil {
		return fmt.Errorf("stomp: send %s: %w", destination, err)
	}
	return nil
}

func (s *session) Done() <-chan struct{} { return s.ws.Done() }

func (s *session) Err() error { return s.ws.Err() }

func (s *session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.conn.MustDisconnect()
		err = s.ws.Close()
		s.wg.Wait()
	})
	return err
}
