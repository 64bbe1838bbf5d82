package node

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/eugenenazirov/shelf-monitor/internal/credentials"
	"github.com/eugenenazirov/shelf-monitor/internal/wifi"
)

const maxRetryInterval = 30 * time.Second

// Config describes one shelf node.
type Config struct {
	Credentials     credentials.Credentials
	ShelfID         string
	TopicPrefix     string
	PublishInterval time.Duration
	RetryInterval   time.Duration
}

// Node publishes samples for one shelf.
type Node struct {
	cfg       Config
	joiner    wifi.Joiner
	connector Connector
	sensor    Sensor
	logger    *zap.Logger
}

// New wires a node. Credentials are validated in Run, not here.
func New(cfg Config, joiner wifi.Joiner, connector Connector, sensor Sensor, logger *zap.Logger) *Node {
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = 5 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 2 * time.Second
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "warehouse"
	}
	return &Node{
		cfg:       cfg,
		joiner:    joiner,
		connector: connector,
		sensor:    sensor,
		logger:    logger,
	}
}

// Topic returns the topic a sample kind is published on.
func (n *Node) Topic(kind string) string {
	if n.cfg.ShelfID == "" {
		return n.cfg.TopicPrefix + "/" + kind
	}
	return n.cfg.TopicPrefix + "/" + n.cfg.ShelfID + "/" + kind
}

// Run joins WiFi once, then keeps a broker session alive and publishes until
// ctx is cancelled. It refuses to start while placeholder credentials remain.
func (n *Node) Run(ctx context.Context) error {
	if err := n.cfg.Credentials.Validate(); err != nil {
		return fmt.Errorf("node credentials: %w", err)
	}
	if err := n.joiner.Join(ctx, n.cfg.Credentials.WiFi); err != nil {
		return fmt.Errorf("join wifi: %w", err)
	}

	backoff := n.cfg.RetryInterval
	for {
		session, err := n.connector.Connect(ctx, n.cfg.Credentials.Broker)
		if err == nil {
			backoff = n.cfg.RetryInterval
			err = n.publishLoop(ctx, session)
			_ = session.Close()
		}
		if ctx.Err() != nil {
			return nil
		}

		n.logger.Warn("broker session ended, retrying",
			zap.String("addr", n.cfg.Credentials.Broker.Address()),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxRetryInterval)
	}
}

func (n *Node) publishLoop(ctx context.Context, session Session) error {
	ticker := time.NewTicker(n.cfg.PublishInterval)
	defer ticker.Stop()

	for {
		if err := n.publishSample(ctx, session); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (n *Node) publishSample(ctx context.Context, session Session) error {
	s := n.sensor.Sample()

	weight := strconv.FormatFloat(s.WeightKg, 'f', 2, 64)
	distance := strconv.Itoa(s.DistanceCm)

	// Distance first: the monitor stores a reading when weight arrives.
	if err := session.Publish(ctx, n.Topic("distance"), []byte(distance)); err != nil {
		return err
	}
	if err := session.Publish(ctx, n.Topic("weight"), []byte(weight)); err != nil {
		return err
	}
	n.logger.Debug("sample published", zap.String("weight", weight), zap.String("distance", distance))
	return nil
}
