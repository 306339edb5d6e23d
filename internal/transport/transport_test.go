package transport

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pulse/pkg/utils"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	Seq int     `json:"seq"`
	BPM float64 `json:"bpm"`
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketBroadcast(t *testing.T) {
	wst := NewWebSocketTransport("", "", 0)
	srv := httptest.NewServer(wst.Handler())
	defer srv.Close()
	defer wst.Close()

	a := dial(t, srv, DefaultWebSocketPath)
	b := dial(t, srv, DefaultWebSocketPath)
	require.Eventually(t, func() bool { return wst.Clients() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, wst.Send(frame{Seq: 1, BPM: 72}))

	for _, c := range []*websocket.Conn{a, b} {
		require.NoError(t, c.SetReadDeadline(time.Now().Add(time.Second)))
		var got frame
		require.NoError(t, c.ReadJSON(&got))
		assert.Equal(t, frame{Seq: 1, BPM: 72}, got)
	}

	a.Close()
	require.Eventually(t, func() bool { return wst.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, wst.Close())
	assert.ErrorIs(t, wst.Send(frame{}), ErrClosed)
	assert.Zero(t, wst.Clients())
}

func TestWebSocketRateLimit(t *testing.T) {
	wst := NewWebSocketTransport("", "/frames", time.Hour)
	srv := httptest.NewServer(wst.Handler())
	defer srv.Close()
	defer wst.Close()

	c := dial(t, srv, "/frames")
	require.Eventually(t, func() bool { return wst.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, wst.Send(frame{Seq: 1}))
	require.NoError(t, wst.Send(frame{Seq: 2})) // inside the interval, dropped

	require.NoError(t, c.SetReadDeadline(time.Now().Add(time.Second)))
	var got frame
	require.NoError(t, c.ReadJSON(&got))
	assert.Equal(t, 1, got.Seq)

	require.NoError(t, c.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	assert.Error(t, c.ReadJSON(&got), "second frame was rate limited")
}

func TestWebSocketCommands(t *testing.T) {
	wst := NewWebSocketTransport("", "", 0)
	srv := httptest.NewServer(wst.Handler())
	defer srv.Close()
	defer wst.Close()

	var (
		mu  sync.Mutex
		got []Command
	)
	wst.OnCommand(func(cmd Command) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, cmd)
		if cmd.Type == "bogus" {
			return errors.New("unknown command")
		}
		return nil
	})

	c := dial(t, srv, DefaultWebSocketPath)
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, c.WriteJSON(Command{Type: "bogus"}))
	require.NoError(t, c.WriteJSON(Command{Type: "passband", Low: 0.8, High: 2.5}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, Command{Type: "passband", Low: 0.8, High: 2.5}, got[1])
	assert.Equal(t, 1, wst.Clients(), "malformed input does not drop the client")
}

func TestWebSocketStart(t *testing.T) {
	wst := NewWebSocketTransport("127.0.0.1:0", "", 0)
	require.NoError(t, wst.Start())
	defer wst.Close()
	assert.NotEqual(t, "127.0.0.1:0", wst.Addr())

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+wst.Addr()+DefaultWebSocketPath, nil)
	require.NoError(t, err)
	conn.Close()

	busy := NewWebSocketTransport(wst.Addr(), "", 0)
	defer busy.Close()
	assert.Error(t, busy.Start(), "address in use")
}

type fakeConn struct {
	mu        sync.Mutex
	published map[string][][]byte
	handlers  map[string]nats.MsgHandler
	err       error
	drained   bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{published: map[string][][]byte{}, handlers: map[string]nats.MsgHandler{}}
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published[subject] = append(f.published[subject], data)
	return nil
}

func (f *fakeConn) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[subject] = cb
	return nil, nil
}

func (f *fakeConn) Drain() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drained = true
	return nil
}

func TestNATSTransport(t *testing.T) {
	conn := newFakeConn()
	nt := newNATSTransport(conn, "")
	assert.Equal(t, DefaultNATSSubject, nt.Subject())

	require.NoError(t, nt.Send(frame{Seq: 3, BPM: 64}))
	require.Len(t, conn.published[DefaultNATSSubject], 1)
	var got frame
	require.NoError(t, json.Unmarshal(conn.published[DefaultNATSSubject][0], &got))
	assert.Equal(t, frame{Seq: 3, BPM: 64}, got)

	conn.err = nats.ErrConnectionReconnecting
	assert.ErrorIs(t, nt.Send(frame{}), nats.ErrConnectionReconnecting)
	conn.err = nil

	assert.Error(t, nt.Send(func() {}), "unmarshalable frame")

	var cmds []Command
	require.NoError(t, nt.OnCommand(func(c Command) error {
		cmds = append(cmds, c)
		return nil
	}))
	handler := conn.handlers[DefaultNATSSubject+".cmd"]
	require.NotNil(t, handler)
	handler(&nats.Msg{Data: []byte(`{"type":"alpha","alpha":50}`)})
	handler(&nats.Msg{Data: []byte(`{`)})
	assert.Equal(t, []Command{{Type: "alpha", Alpha: 50}}, cmds)

	require.NoError(t, nt.Close())
	assert.True(t, conn.drained)
	assert.ErrorIs(t, nt.Send(frame{}), ErrClosed)

	_, err := NewNATSTransport(nil, "x")
	assert.Error(t, err)
}

func TestLoggingTransport(t *testing.T) {
	lt := NewLoggingTransport(2)
	for i := range 5 {
		require.NoError(t, lt.Send(frame{Seq: i}))
	}
	require.NoError(t, lt.Send(func() {}), "marshal errors are logged, not returned")
	assert.Equal(t, uint64(6), lt.Sent())
	assert.NoError(t, lt.Close())
}

func TestMulti(t *testing.T) {
	ok := &utils.MockTransport{}
	failing := &utils.MockTransport{Err: errors.New("down")}
	m := Multi{failing, ok}

	assert.EqualError(t, m.Send("x"), "down")
	assert.Equal(t, 1, ok.Count(), "every transport receives the frame")

	require.NoError(t, m.Close())
	assert.True(t, ok.Closed)
	assert.True(t, failing.Closed)
}
