// Package mqtt carries realtime channel sessions over an MQTT broker.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"tiximax/config"
	"tiximax/logging"
	"tiximax/realtime"
)

const (
	qos          = 1
	disconnectMs = 250
)

var errClosed = errors.New("mqtt: session closed")

// Transport implements realtime.Transport. Paho's own reconnect logic is
// disabled; the realtime channel owns reconnection.
type Transport struct {
	cfg config.MQTTConfig
	log *zap.Logger
}

// New creates an MQTT transport.
func New(cfg config.MQTTConfig, log *zap.Logger) *Transport {
	return &Transport{cfg: cfg, log: logging.OrNop(log).Named("mqtt")}
}

func (t *Transport) brokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", t.cfg.Broker, t.cfg.Port)
}

// Dial connects to the broker.
func (t *Transport) Dial(ctx context.Context) (realtime.Session, error) {
	s := &session{done: make(chan struct{}), log: t.log}

	opts := pahomqtt.NewClientOptions().
		AddBroker(t.brokerURL()).
		SetClientID(t.cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			s.fail(fmt.Errorf("mqtt: connection lost: %w", err))
		})
	if t.cfg.KeepAlive > 0 {
		opts.SetKeepAlive(t.cfg.KeepAlive)
	}
	if deadline, ok := ctx.Deadline(); ok {
		opts.SetConnectTimeout(time.Until(deadline))
	}

	client := pahomqtt.NewClient(opts)
	if err := wait(ctx, client.Connect()); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt: connect %s: %w", t.brokerURL(), err)
	}
	s.client = client
	t.log.Info("connected", zap.String("broker", t.brokerURL()))
	return s, nil
}

func wait(ctx context.Context, tok pahomqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

type session struct {
	client pahomqtt.Client
	log    *zap.Logger

	once sync.Once
	done chan struct{}
	mu   sync.Mutex
	err  error
}

func (s *session) Subscribe(topic string, deliver func([]byte)) (func() error, error) {
	tok := s.client.Subscribe(topic, qos, func(_ pahomqtt.Client, m pahomqtt.Message) {
		deliver(m.Payload())
	})
	tok.Wait()
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: subscribe %s: %w", topic, err)
	}

	var once sync.Once
	return func() error {
		var err error
		once.Do(func() {
			tok := s.client.Unsubscribe(topic)
			tok.Wait()
			err = tok.Error()
		})
		return err
	}, nil
}

func (s *session) Send(destination string, body []byte) error {
	if !s.client.IsConnected() {
		return errClosed
	}
	tok := s.client.Publish(destination, qos, false, body)
	tok.Wait()
	return tok.Error()
}

func (s *session) fail(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		s.log.Warn("session ended", zap.Error(err))
		close(s.done)
	})
}

func (s *session) Done() <-chan struct{} { return s.done }

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *session) Close() error {
	s.client.Disconnect(disconnectMs)
	s.once.Do(func() {
		s.mu.Lock()
		s.err = errClosed
		s.mu.Unlock()
		close(s.done)
	})
	return nil
}
