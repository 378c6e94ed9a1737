// Package kafka carries realtime channel sessions over Kafka topics.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"tiximax/config"
	"tiximax/logging"
	"tiximax/realtime"
)

const probeTimeout = 5 * time.Second

var errClosed = errors.New("kafka: session closed")

// TopicName maps a channel destination such as "/topic/orders" to a valid
// Kafka topic name ("topic.orders").
func TopicName(dest string) string {
	name := strings.Trim(dest, "/")
	return strings.ReplaceAll(name, "/", ".")
}

// Transport implements realtime.Transport.
type Transport struct {
	cfg config.KafkaConfig
	log *zap.Logger
}

// New creates a Kafka transport.
func New(cfg config.KafkaConfig, log *zap.Logger) *Transport {
	return &Transport{cfg: cfg, log: logging.OrNop(log).Named("kafka")}
}

// Dial verifies that at least one broker is reachable and returns a session
// that writes through a shared writer and reads with one reader per topic.
func (t *Transport) Dial(ctx context.Context) (realtime.Session, error) {
	if len(t.cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}

	var connErr error
	for _, broker := range t.cfg.Brokers {
		pctx, cancel := context.WithTimeout(ctx, probeTimeout)
		conn, err := kafkago.DialContext(pctx, "tcp", broker)
		cancel()
		if err == nil {
			conn.Close()
			connErr = nil
			t.log.Info("connected", zap.String("broker", broker))
			break
		}
		connErr = err
	}
	if connErr != nil {
		return nil, fmt.Errorf("kafka: connect: %w", connErr)
	}

	sctx, cancel := context.WithCancel(context.Background())
	return &session{
		cfg:    t.cfg,
		log:    t.log,
		ctx:    sctx,
		cancel: cancel,
		done:   make(chan struct{}),
		writer: &kafkago.Writer{
			Addr:                   kafkago.TCP(t.cfg.Brokers...),
			Balancer:               &kafkago.LeastBytes{},
			RequiredAcks:           kafkago.RequireOne,
			AllowAutoTopicCreation: true,
		},
	}, nil
}

type session struct {
	cfg    config.KafkaConfig
	log    *zap.Logger
	writer *kafkago.Writer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	once    sync.Once
	done    chan struct{}
	mu      sync.Mutex
	err     error
	readers map[*kafkago.Reader]struct{}
}

func (s *session) Subscribe(topic string, deliver func([]byte)) (func() error, error) {
	select {
	case <-s.done:
		return nil, errClosed
	default:
	}

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: s.cfg.Brokers,
		Topic:   TopicName(topic),
		GroupID: s.cfg.GroupID,
	})
	rctx, stop := context.WithCancel(s.ctx)
	s.mu.Lock()
	if s.readers == nil {
		s.readers = make(map[*kafkago.Reader]struct{})
	}
	s.readers[reader] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			msg, err := reader.ReadMessage(rctx)
			if err != nil {
				if rctx.Err() == nil {
					s.fail(fmt.Errorf("kafka: read %s: %w", topic, err))
				}
				return
			}
			deliver(msg.Value)
		}
	}()

	var once sync.Once
	return func() error {
		var err error
		once.Do(func() {
			stop()
			s.mu.Lock()
			delete(s.readers, reader)
			s.mu.Unlock()
			err = reader.Close()
		})
		return err
	}, nil
}

func (s *session) Send(destination string, body []byte) error {
	return s.writer.WriteMessages(s.ctx, kafkago.Message{
		Topic: TopicName(destination),
		Value: body,
	})
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

// Close stops every reader and flushes the writer.
func (s *session) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = errClosed
		s.mu.Unlock()
		close(s.done)
	})
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	readers := s.readers
	s.readers = nil
	s.mu.Unlock()
	for r := range readers {
		r.Close()
	}
	return s.writer.Close()
}
