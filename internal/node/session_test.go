package node

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/shelf-monitor/internal/credentials"
)

type connectPacket struct {
	clientID  string
	username  string
	password  string
	keepAlive uint16
}

type publishPacket struct {
	topic   string
	payload string
}

// readPacket reads one MQTT control packet: the first header byte and the body.
func readPacket(r *bufio.Reader) (byte, []byte, error) {
	header, err := r.ReadByte()
	if err != nil {
		return 0, nil, err
	}

	var length, shift int
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, nil, err
		}
		length |= int(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	return header, body, nil
}

func readString(body []byte) (string, []byte) {
	n := int(binary.BigEndian.Uint16(body))
	return string(body[2 : 2+n]), body[2+n:]
}

func parseConnect(body []byte) connectPacket {
	_, rest := readString(body) // protocol name
	flags := rest[1]
	pkt := connectPacket{keepAlive: binary.BigEndian.Uint16(rest[2:4])}
	rest = rest[4:]

	pkt.clientID, rest = readString(rest)
	if flags&0x80 != 0 {
		pkt.username, rest = readString(rest)
	}
	if flags&0x40 != 0 {
		pkt.password, _ = readString(rest)
	}
	return pkt
}

func parsePublish(header byte, body []byte) publishPacket {
	topic, rest := readString(body)
	if (header>>1)&0x03 > 0 {
		rest = rest[2:]
	}
	return publishPacket{topic: topic, payload: string(rest)}
}

type fakeBroker struct {
	listener net.Listener
	connects chan connectPacket
	messages chan publishPacket
	conns    chan net.Conn
}

// startFakeBroker accepts one client. When ack is false it never answers CONNECT.
func startFakeBroker(t *testing.T, ack bool) *fakeBroker {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	b := &fakeBroker{
		listener: ln,
		connects: make(chan connectPacket, 1),
		messages: make(chan publishPacket, 16),
		conns:    make(chan net.Conn, 1),
	}

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		b.conns <- conn
		r := bufio.NewReader(conn)

		header, body, err := readPacket(r)
		if err != nil || header>>4 != 1 {
			return
		}
		b.connects <- parseConnect(body)
		if !ack {
			return
		}
		if _, err := conn.Write([]byte{0x20, 0x02, 0x00, 0x00}); err != nil {
			return
		}

		for {
			header, body, err := readPacket(r)
			if err != nil {
				return
			}
			if header>>4 == 3 {
				b.messages <- parsePublish(header, body)
			}
		}
	}()
	return b
}

func (b *fakeBroker) broker(t *testing.T) credentials.Broker {
	t.Helper()
	addr := b.listener.Addr().(*net.TCPAddr)
	return credentials.Broker{Host: addr.IP.String(), Port: addr.Port}
}

func newTestConnector(t *testing.T) *NatiuConnector {
	return &NatiuConnector{
		ClientID:       "shelf-monitor-shelf1",
		Username:       "node",
		Password:       "secret123",
		KeepAlive:      60 * time.Second,
		ConnectTimeout: time.Second,
		Logger:         zaptest.NewLogger(t),
	}
}

func TestNatiuConnectorPublishes(t *testing.T) {
	b := startFakeBroker(t, true)
	ctx := context.Background()

	session, err := newTestConnector(t).Connect(ctx, b.broker(t))
	require.NoError(t, err)
	defer func() { _ = session.Close() }()

	select {
	case got := <-b.connects:
		require.Equal(t, connectPacket{
			clientID:  "shelf-monitor-shelf1",
			username:  "node",
			password:  "secret123",
			keepAlive: 60,
		}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("broker never saw CONNECT")
	}

	require.NoError(t, session.Publish(ctx, "warehouse/shelf1/distance", []byte("55")))
	require.NoError(t, session.Publish(ctx, "warehouse/shelf1/weight", []byte("4.50")))

	for _, want := range []publishPacket{
		{topic: "warehouse/shelf1/distance", payload: "55"},
		{topic: "warehouse/shelf1/weight", payload: "4.50"},
	} {
		select {
		case got := <-b.messages:
			require.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("broker never saw publish on %s", want.topic)
		}
	}
}

func TestNatiuConnectorTimesOutWithoutConnack(t *testing.T) {
	b := startFakeBroker(t, false)
	connector := newTestConnector(t)
	connector.ConnectTimeout = 150 * time.Millisecond

	start := time.Now()
	_, err := connector.Connect(context.Background(), b.broker(t))
	require.Error(t, err)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestNatiuConnectorDialFailure(t *testing.T) {
	connector := newTestConnector(t)
	connector.Dial = func(context.Context, string, string) (net.Conn, error) {
		return nil, errors.New("connection refused")
	}

	_, err := connector.Connect(context.Background(), credentials.Broker{Host: "10.0.0.5", Port: 1883})
	require.ErrorContains(t, err, "dial 10.0.0.5:1883")
}

func TestNatiuSessionPublishFailsAfterPeerCloses(t *testing.T) {
	b := startFakeBroker(t, true)
	ctx := context.Background()

	session, err := newTestConnector(t).Connect(ctx, b.broker(t))
	require.NoError(t, err)
	defer func() { _ = session.Close() }()

	conn := <-b.conns
	require.NoError(t, conn.Close())

	// The first writes can land in the socket buffer before the reset is seen.
	require.Eventually(t, func() bool {
		return session.Publish(ctx, "warehouse/shelf1/weight", []byte("1.00")) != nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestNatiuSessionPublishHonoursCancelledContext(t *testing.T) {
	b := startFakeBroker(t, true)

	session, err := newTestConnector(t).Connect(context.Background(), b.broker(t))
	require.NoError(t, err)
	defer func() { _ = session.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, session.Publish(ctx, "warehouse/shelf1/weight", []byte("1.00")), context.Canceled)
}

func TestKeepAliveSeconds(t *testing.T) {
	require.Equal(t, uint16(0), keepAliveSeconds(0))
	require.Equal(t, uint16(0), keepAliveSeconds(-time.Second))
	require.Equal(t, uint16(60), keepAliveSeconds(time.Minute))
	require.Equal(t, uint16(65535), keepAliveSeconds(65535*time.Second))
	require.Equal(t, uint16(65535), keepAliveSeconds(19*time.Hour))
}
