package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"time"

	mqtt "github.com/soypat/natiu-mqtt"
	"go.uber.org/zap"

	"github.com/eugenenazirov/shelf-monitor/internal/credentials"
)

const (
	decoderBufferSize = 4096
	writeDeadline     = 5 * time.Second
)

var (
	errStopping = errors.New("node stopping")
	// ErrNotConnected is returned when publishing on a dropped session.
	ErrNotConnected = errors.New("mqtt: not connected")
)

// Session publishes on an established broker connection.
type Session interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// Connector opens broker sessions.
type Connector interface {
	Connect(ctx context.Context, broker credentials.Broker) (Session, error)
}

// DialFunc matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// NatiuConnector speaks MQTT 3.1.1 with natiu-mqtt over a plain TCP connection.
type NatiuConnector struct {
	ClientID       string
	Username       string
	Password       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	Dial           DialFunc
	Logger         *zap.Logger
}

// Connect dials the broker and waits for CONNACK.
func (c *NatiuConnector) Connect(ctx context.Context, broker credentials.Broker) (Session, error) {
	dial := c.Dial
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}
	timeout := c.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dial(ctx, "tcp", broker.Address())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", broker.Address(), err)
	}

	client := mqtt.NewClient(mqtt.ClientConfig{
		Decoder: mqtt.DecoderNoAlloc{UserBuffer: make([]byte, decoderBufferSize)},
		OnPub: func(_ mqtt.Header, vp mqtt.VariablesPublish, r io.Reader) error {
			c.Logger.Debug("unexpected publish", zap.ByteString("topic", vp.TopicName))
			_, err := io.Copy(io.Discard, r)
			return err
		},
	})

	var vc mqtt.VariablesConnect
	vc.SetDefaultMQTT([]byte(c.ClientID))
	if c.Username != "" {
		vc.Username = []byte(c.Username)
		vc.Password = []byte(c.Password)
	}
	vc.KeepAlive = keepAliveSeconds(c.KeepAlive)

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if err := client.Connect(ctx, conn, &vc); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("mqtt connect %s: %w", broker.Address(), err)
	}
	_ = conn.SetDeadline(time.Time{})

	c.Logger.Info("connected to broker", zap.String("addr", broker.Address()))
	return &natiuSession{client: client, conn: conn}, nil
}

// keepAliveSeconds converts d to the CONNECT field, saturating at its 16-bit range.
func keepAliveSeconds(d time.Duration) uint16 {
	switch secs := d / time.Second; {
	case secs <= 0:
		return 0
	case secs > math.MaxUint16:
		return math.MaxUint16
	default:
		return uint16(secs)
	}
}

type natiuSession struct {
	client *mqtt.Client
	conn   net.Conn

	mu     sync.Mutex
	packet uint16
}

func (s *natiuSession) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.client.IsConnected() {
		return errors.Join(ErrNotConnected, s.client.Err())
	}

	flags, err := mqtt.NewPublishFlags(mqtt.QoS0, false, false)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.packet++
	vp := mqtt.VariablesPublish{
		TopicName:        []byte(topic),
		PacketIdentifier: s.packet,
	}

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := s.client.PublishPayload(flags, vp, payload); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

func (s *natiuSession) Close() error {
	_ = s.client.Disconnect(errStopping)
	return s.conn.Close()
}
