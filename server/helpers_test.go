package server

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type frame struct {
	mt   int
	data []byte
}

// fakeConn 内存连接：in 供测试注入入站帧，写出的文本帧保存在 out
type fakeConn struct {
	in     chan frame
	closed chan struct{}
	once   sync.Once

	// gate 非空时每次 WriteMessage 需要先从 gate 取得许可
	gate chan struct{}

	mu       sync.Mutex
	out      [][]byte
	controls []int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan frame, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f, ok := <-c.in:
		if !ok {
			return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
		}
		return f.mt, f.data, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-c.closed:
			return net.ErrClosed
		}
	}
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = append(c.out, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) WriteControl(messageType int, _ []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controls = append(c.controls, messageType)
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) send(t *testing.T, msg ClientMessage) {
	t.Helper()
	data, err := EncodeClientMessage(msg)
	require.NoError(t, err)
	c.sendFrame(websocket.TextMessage, data)
}

func (c *fakeConn) sendFrame(mt int, data []byte) {
	c.in <- frame{mt: mt, data: data}
}

// messages 解码目前为止写出的全部事件
func (c *fakeConn) messages(t *testing.T) []ServerMessage {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ServerMessage, 0, len(c.out))
	for _, data := range c.out {
		msg, err := DecodeServerMessage(data)
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

func (c *fakeConn) sawControl(messageType int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ct := range c.controls {
		if ct == messageType {
			return true
		}
	}
	return false
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.LogFile = ""
	cfg.ReportInterval = 0
	return cfg
}

func newTestSession(t *testing.T, hub *Hub) (*Session, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	s := NewSession(hub, conn, "127.0.0.1:1", testConfig(), zaptest.NewLogger(t).Sugar())
	return s, conn
}

// drain 读出订阅上当前已发布的全部事件
func drain(t *testing.T, sub *Subscription) []Event {
	t.Helper()
	var out []Event
	for {
		ev, wait, err := sub.Poll()
		require.NoError(t, err)
		if wait != nil {
			return out
		}
		out = append(out, ev)
	}
}

func messagesOf(events []Event) []ServerMessage {
	out := make([]ServerMessage, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Message)
	}
	return out
}

func runSession(t *testing.T, s *Session) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate")
		return nil
	}
}
