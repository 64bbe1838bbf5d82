package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/zeromicro/go-zero/core/threading"
	"go.uber.org/zap"

	"github.com/eugenenazirov/shelf-monitor/internal/credentials"
	"github.com/eugenenazirov/shelf-monitor/internal/metrics"
)

const (
	defaultQueueSize  = 64
	disconnectQuiesce = 250 // milliseconds
)

var (
	// ErrConnectTimeout is returned when the broker does not acknowledge in time.
	ErrConnectTimeout = errors.New("broker: connect timed out")
	// ErrStopped is returned when Start is called on a stopped subscriber.
	ErrStopped = errors.New("broker: subscriber stopped")
)

// Handler consumes one message.
type Handler interface {
	HandleMessage(ctx context.Context, topic string, payload []byte) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, topic string, payload []byte) error

// HandleMessage calls f.
func (f HandlerFunc) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	return f(ctx, topic, payload)
}

// Config holds what the subscriber needs to reach the broker.
type Config struct {
	Broker               credentials.Broker
	ClientID             string
	Username             string
	Password             string
	Topic                string
	QoS                  byte
	KeepAlive            time.Duration
	ConnectTimeout       time.Duration
	MaxReconnectInterval time.Duration
	Workers              int
	QueueSize            int
}

// ClientFactory builds the paho client; tests swap it for a fake.
type ClientFactory func(opts *mqtt.ClientOptions) mqtt.Client

// Option configures a Subscriber.
type Option func(*Subscriber)

// WithClientFactory overrides how the paho client is created.
func WithClientFactory(factory ClientFactory) Option {
	return func(s *Subscriber) {
		s.newClient = factory
	}
}

type message struct {
	topic   string
	payload []byte
}

// Subscriber owns one broker connection and its worker pool.
type Subscriber struct {
	cfg       Config
	handler   Handler
	logger    *zap.Logger
	newClient ClientFactory

	client   mqtt.Client
	workers  *threading.RoutineGroup
	channels []chan message

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	started  bool
	stopped  bool
	stopOnce sync.Once
}

// NewSubscriber prepares a subscriber; nothing connects until Start.
func NewSubscriber(cfg Config, handler Handler, logger *zap.Logger, opts ...Option) *Subscriber {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	s := &Subscriber{
		cfg:       cfg,
		handler:   handler,
		logger:    logger,
		newClient: mqtt.NewClient,
		workers:   threading.NewRoutineGroup(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.channels = make([]chan message, 0, cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		s.channels = append(s.channels, make(chan message, cfg.QueueSize))
	}
	return s
}

// Start launches the workers and connects. It returns once the broker has
// acknowledged the connection or the connect timeout elapses. Subscriptions
// are (re)established from the on-connect hook, so they survive reconnects.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Unlock()

	s.startWorkers()

	s.client = s.newClient(s.clientOptions())
	s.logger.Info("connecting to broker",
		zap.String("addr", s.cfg.Broker.Address()),
		zap.String("client_id", s.cfg.ClientID))

	token := s.client.Connect()
	if !token.WaitTimeout(s.cfg.ConnectTimeout) {
		return fmt.Errorf("%w after %s", ErrConnectTimeout, s.cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("broker: connect %s: %w", s.cfg.Broker.Address(), err)
	}
	return nil
}

// Stop disconnects, drains queued messages and waits for the workers.
func (s *Subscriber) Stop() {
	s.stopOnce.Do(func() {
		if s.client != nil {
			s.client.Disconnect(disconnectQuiesce)
		}
		metrics.SetBrokerConnected(false)

		s.mu.Lock()
		s.stopped = true
		if s.started {
			for _, ch := range s.channels {
				close(ch)
			}
		}
		s.mu.Unlock()

		s.workers.Wait()
		if s.cancel != nil {
			s.cancel()
		}
	})
}

func (s *Subscriber) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker("tcp://" + s.cfg.Broker.Address())
	opts.SetClientID(s.cfg.ClientID)
	opts.SetUsername(s.cfg.Username)
	opts.SetPassword(s.cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(s.cfg.ConnectTimeout)
	if s.cfg.KeepAlive > 0 {
		opts.SetKeepAlive(s.cfg.KeepAlive)
	}
	if s.cfg.MaxReconnectInterval > 0 {
		opts.SetMaxReconnectInterval(s.cfg.MaxReconnectInterval)
	}
	opts.SetOnConnectHandler(s.onConnect)
	opts.SetConnectionLostHandler(s.onConnectionLost)
	return opts
}

func (s *Subscriber) onConnect(client mqtt.Client) {
	metrics.SetBrokerConnected(true)
	s.logger.Info("connected to broker", zap.String("topic", s.cfg.Topic))

	token := client.Subscribe(s.cfg.Topic, s.cfg.QoS, s.onMessage)
	if token.WaitTimeout(s.cfg.ConnectTimeout) && token.Error() == nil {
		return
	}
	err := token.Error()
	if err == nil {
		err = ErrConnectTimeout
	}
	s.logger.Error("subscribe failed", zap.String("topic", s.cfg.Topic), zap.Error(err))
}

func (s *Subscriber) onConnectionLost(_ mqtt.Client, err error) {
	metrics.SetBrokerConnected(false)
	s.logger.Warn("broker connection lost", zap.Error(err))
}

func (s *Subscriber) onMessage(_ mqtt.Client, msg mqtt.Message) {
	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())
	s.dispatch(message{topic: msg.Topic(), payload: payload})
}

// dispatch queues msg on the worker owning its topic. It blocks while that
// worker's queue is full, which pushes back on the paho router.
func (s *Subscriber) dispatch(msg message) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped || !s.started {
		return
	}

	i := xxhash.Sum64String(msg.topic) % uint64(len(s.channels))
	s.channels[i] <- msg
}

func (s *Subscriber) startWorkers() {
	for _, ch := range s.channels {
		ch := ch
		s.workers.Run(func() {
			for msg := range ch {
				if err := s.handler.HandleMessage(s.ctx, msg.topic, msg.payload); err != nil {
					s.logger.Warn("message handling failed",
						zap.String("topic", msg.topic),
						zap.Error(err))
				}
			}
		})
	}
}
