package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/edgard/webmax/errs"
	"github.com/edgard/webmax/internal/protocol"
	"github.com/edgard/webmax/internal/resilience"
	"github.com/edgard/webmax/internal/transport"
)

const (
	goodToken = "good-token"
	botID     = int64(42)
)

type serverConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *serverConn) send(t *testing.T, f protocol.Frame) {
	t.Helper()
	data, err := json.Marshal(f)
	require.NoError(t, err)
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *serverConn) reply(t *testing.T, req *protocol.Frame, payload string) {
	c.send(t, protocol.Frame{Ver: protocol.Version, Cmd: protocol.CmdOK, Seq: req.Seq, Opcode: req.Opcode, Payload: json.RawMessage(payload)})
}

func (c *serverConn) fail(t *testing.T, req *protocol.Frame, payload string) {
	c.send(t, protocol.Frame{Ver: protocol.Version, Cmd: protocol.CmdError, Seq: req.Seq, Opcode: req.Opcode, Payload: json.RawMessage(payload)})
}

func (c *serverConn) push(t *testing.T, op protocol.Opcode, payload string) {
	c.send(t, protocol.Frame{Ver: protocol.Version, Cmd: protocol.CmdRequest, Opcode: op, Payload: json.RawMessage(payload)})
}

func (c *serverConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.Close()
}

// handlerFunc answers one client frame. Returning false lets the default
// handshake handler process it.
type handlerFunc func(c *serverConn, f *protocol.Frame) bool

type fakeServer struct {
	t        *testing.T
	url      string
	connects atomic.Int32
	received chan *protocol.Frame
	handle   handlerFunc
}

func newFakeServer(t *testing.T, handle handlerFunc) *fakeServer {
	t.Helper()
	fs := &fakeServer{t: t, received: make(chan *protocol.Frame, 64), handle: handle}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		fs.connects.Add(1)
		conn := &serverConn{ws: ws}

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			f, err := protocol.Decode(data)
			if err != nil {
				continue
			}
			select {
			case fs.received <- f:
			default:
			}
			if fs.handle != nil && fs.handle(conn, f) {
				continue
			}
			fs.handshake(conn, f)
		}
	}))
	t.Cleanup(srv.Close)
	fs.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return fs
}

func (fs *fakeServer) handshake(c *serverConn, f *protocol.Frame) {
	switch f.Opcode {
	case protocol.OpHello, protocol.OpPing:
		c.reply(fs.t, f, `{}`)
	case protocol.OpLogin:
		var req protocol.LoginRequest
		require.NoError(fs.t, f.Unmarshal(&req))
		if req.Token != goodToken {
			c.fail(fs.t, f, `{"error":"login.token","title":"Invalid token"}`)
			return
		}
		c.reply(fs.t, f, `{"profile":{"id":42,"names":[{"name":"Echo Bot"}],"phone":79990000000}}`)
	}
}

func (fs *fakeServer) waitFor(t *testing.T, op protocol.Opcode) *protocol.Frame {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case f := <-fs.received:
			if f.Opcode == op {
				return f
			}
		case <-timeout:
			t.Fatalf("server never received %s", op)
			return nil
		}
	}
}

func newTestSession(t *testing.T, fs *fakeServer) *Session {
	t.Helper()
	s := New(Config{
		Endpoint:       fs.url,
		Dialer:         transport.Dialer{HandshakeTimeout: time.Second},
		RequestTimeout: 2 * time.Second,
		Retry: resilience.RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 5 * time.Millisecond,
			MaxInterval:     20 * time.Millisecond,
			Multiplier:      2,
		},
	}, nil)
	t.Cleanup(s.Close)
	return s
}

func receive(t *testing.T, s *Session) (Event, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.Receive(ctx)
}

func TestOpenAuthenticates(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	fs := newFakeServer(t, nil)
	s := newTestSession(t, fs)

	_, ok := s.Me()
	req.False(ok)
	req.Equal(StateDisconnected, s.State())

	me, err := s.Open(context.Background(), goodToken)
	req.NoError(err)
	req.Equal(botID, me.ID())
	req.Equal("Echo Bot", me.Contact.DisplayName())
	req.Equal(StateConnected, s.State())
	req.Equal(goodToken, s.Token())

	id, ok := s.Me()
	req.True(ok)
	req.Equal(botID, id)

	hello := fs.waitFor(t, protocol.OpHello)
	var payload protocol.HelloRequest
	req.NoError(hello.Unmarshal(&payload))
	req.NotEmpty(payload.DeviceID)
	req.Equal(int64(0), hello.Seq)

	ev, err := receive(t, s)
	req.NoError(err)
	ready, ok := ev.(ConnectReady)
	req.True(ok)
	req.Equal(botID, ready.Me.ID())
}

func TestLoginRejectedIsAuthError(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	fs := newFakeServer(t, nil)
	s := newTestSession(t, fs)

	_, err := s.Open(context.Background(), "bogus")
	req.Error(err)
	var authErr *errs.AuthError
	req.True(errors.As(err, &authErr))
	req.False(errs.IsRetryable(err))
	req.Equal(StateDisconnected, s.State())

	_, ok := s.Me()
	req.False(ok)
}

func TestRequestCorrelatesInterleavedPushes(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	fs := newFakeServer(t, func(c *serverConn, f *protocol.Frame) bool {
		if f.Opcode != protocol.OpSendMessage {
			return false
		}
		c.push(t, protocol.OpMessagePush, `{"chatId":7,"message":{"id":"100","sender":5,"text":"first"}}`)
		c.push(t, protocol.OpMessagePush, `{"chatId":7,"message":{"id":"101","sender":5,"text":"second"}}`)
		c.reply(t, f, `{"chatId":7,"message":{"id":"200","sender":42,"text":"sent"}}`)
		return true
	})
	s := newTestSession(t, fs)
	_, err := s.Open(context.Background(), goodToken)
	req.NoError(err)

	resp, err := s.Request(context.Background(), protocol.OpSendMessage, protocol.SendMessageRequest{ChatID: 7})
	req.NoError(err)
	var env protocol.MessageEnvelope
	req.NoError(resp.Unmarshal(&env))
	msg, err := env.ToModel(0)
	req.NoError(err)
	req.Equal("sent", msg.Text)

	var texts []string
	for range 3 {
		ev, err := receive(t, s)
		req.NoError(err)
		switch e := ev.(type) {
		case ConnectReady:
			texts = append(texts, "ready")
		case MessageEvent:
			texts = append(texts, e.Message.Text)
		}
	}
	req.Equal([]string{"ready", "first", "second"}, texts)
	req.Equal(0, s.Pending())
}

func TestRequestReturnsAPIError(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	fs := newFakeServer(t, func(c *serverConn, f *protocol.Frame) bool {
		if f.Opcode != protocol.OpContactPhone {
			return false
		}
		c.reply(t, f, `{"error":"contact.not.found","localizedMessage":"No such user"}`)
		return true
	})
	s := newTestSession(t, fs)
	_, err := s.Open(context.Background(), goodToken)
	req.NoError(err)

	_, err = s.Request(context.Background(), protocol.OpContactPhone, protocol.ContactByPhoneRequest{Phone: "+7000"})
	req.ErrorIs(err, errs.ErrUserNotFound)
	req.Equal(errs.CodeAPI, errs.Code(err))
}

func TestAnswersServerPing(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	var pinged atomic.Bool
	fs := newFakeServer(t, func(c *serverConn, f *protocol.Frame) bool {
		if f.Opcode == protocol.OpLogin && pinged.CompareAndSwap(false, true) {
			c.reply(t, f, `{"profile":{"id":42}}`)
			c.push(t, protocol.OpPing, `{}`)
			return true
		}
		return false
	})
	s := newTestSession(t, fs)
	_, err := s.Open(context.Background(), goodToken)
	req.NoError(err)

	pong := fs.waitFor(t, protocol.OpPing)
	req.Equal(protocol.CmdRequest, pong.Cmd)
	var payload protocol.PingRequest
	req.NoError(pong.Unmarshal(&payload))
	req.False(payload.Interactive)
}

func TestReconnectAfterDropDeliversNoDuplicates(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	var dropped atomic.Bool
	fs := newFakeServer(t, func(c *serverConn, f *protocol.Frame) bool {
		if f.Opcode == protocol.OpLogin && dropped.CompareAndSwap(false, true) {
			c.reply(t, f, `{"profile":{"id":42}}`)
			c.push(t, protocol.OpMessagePush, `{"chatId":1,"message":{"id":"1","text":"before drop"}}`)
			c.close()
			return true
		}
		return false
	})
	s := newTestSession(t, fs)
	_, err := s.Open(context.Background(), goodToken)
	req.NoError(err)

	ev, err := receive(t, s)
	req.NoError(err)
	req.IsType(ConnectReady{}, ev)

	ev, err = receive(t, s)
	req.NoError(err)
	req.Equal("before drop", ev.(MessageEvent).Message.Text)

	_, err = receive(t, s)
	req.Error(err)
	req.True(errs.IsRetryable(err))
	req.Equal(StateDisconnected, s.State())

	req.NoError(s.Reconnect(context.Background()))
	req.Equal(int32(2), fs.connects.Load())
	req.Equal(StateConnected, s.State())

	ev, err = receive(t, s)
	req.NoError(err)
	req.IsType(ConnectReady{}, ev)
	req.Equal(0, s.Pending())
}

func TestDropRightAfterLoginYieldsOneReadyPerConnection(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	var logins atomic.Int32
	fs := newFakeServer(t, func(c *serverConn, f *protocol.Frame) bool {
		if f.Opcode == protocol.OpLogin && logins.Add(1) == 1 {
			c.reply(t, f, `{"profile":{"id":42}}`)
			c.close()
			return true
		}
		return false
	})
	s := newTestSession(t, fs)
	_, err := s.Open(context.Background(), goodToken)
	req.NoError(err)

	ev, err := receive(t, s)
	req.NoError(err)
	req.IsType(ConnectReady{}, ev)

	_, err = receive(t, s)
	req.Error(err)
	req.True(errs.IsRetryable(err))

	req.NoError(s.Reconnect(context.Background()))
	req.Equal(int32(2), logins.Load())

	var ready int
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		ev, err := s.Receive(ctx)
		cancel()
		if err != nil {
			req.ErrorIs(err, context.DeadlineExceeded)
			break
		}
		if _, ok := ev.(ConnectReady); ok {
			ready++
		}
	}
	req.Equal(1, ready)
	req.Equal(StateConnected, s.State())
}

func TestReconnectResumesInOrderDelivery(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	var logins atomic.Int32
	fs := newFakeServer(t, func(c *serverConn, f *protocol.Frame) bool {
		if f.Opcode != protocol.OpLogin {
			return false
		}
		c.reply(t, f, `{"profile":{"id":42}}`)
		if logins.Add(1) == 1 {
			c.push(t, protocol.OpMessagePush, `{"chatId":1,"message":{"id":"1","text":"a"}}`)
			c.close()
			return true
		}
		c.push(t, protocol.OpMessagePush, `{"chatId":1,"message":{"id":"2","text":"b"}}`)
		c.push(t, protocol.OpMessagePush, `{"chatId":1,"message":{"id":"3","text":"c"}}`)
		return true
	})
	s := newTestSession(t, fs)
	_, err := s.Open(context.Background(), goodToken)
	req.NoError(err)

	var got []string
	for len(got) < 3 {
		ev, err := receive(t, s)
		if err != nil {
			req.True(errs.IsRetryable(err))
			req.NoError(s.Reconnect(context.Background()))
			continue
		}
		if m, ok := ev.(MessageEvent); ok {
			got = append(got, m.Message.Text)
		}
	}

	req.Equal([]string{"a", "b", "c"}, got)
	req.Equal(int32(2), fs.connects.Load())
}

func TestReconnectRejectedTokenIsNotRetried(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	var logins atomic.Int32
	fs := newFakeServer(t, func(c *serverConn, f *protocol.Frame) bool {
		if f.Opcode != protocol.OpLogin {
			return false
		}
		if logins.Add(1) == 1 {
			c.reply(t, f, `{"profile":{"id":42}}`)
			c.close()
			return true
		}
		c.fail(t, f, `{"error":"login.token","title":"Invalid token"}`)
		return true
	})
	s := newTestSession(t, fs)
	_, err := s.Open(context.Background(), goodToken)
	req.NoError(err)

	_, err = receive(t, s)
	req.NoError(err)
	_, err = receive(t, s)
	req.Error(err)

	err = s.Reconnect(context.Background())
	var authErr *errs.AuthError
	req.True(errors.As(err, &authErr))
	req.False(errs.IsRetryable(err))
	req.Equal(int32(2), fs.connects.Load())
	req.Equal(int32(2), logins.Load())
	req.Equal(StateDisconnected, s.State())
}

func TestReconnectWithoutTokenFails(t *testing.T) {
	t.Parallel()

	fs := newFakeServer(t, nil)
	s := newTestSession(t, fs)

	err := s.Reconnect(context.Background())
	require.ErrorIs(t, err, errs.ErrNotAuthenticated)
	require.Equal(t, int32(0), fs.connects.Load())
}

func TestCloseUnblocksReceiveAndRequests(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	fs := newFakeServer(t, func(_ *serverConn, f *protocol.Frame) bool {
		return f.Opcode == protocol.OpContacts
	})
	s := newTestSession(t, fs)
	_, err := s.Open(context.Background(), goodToken)
	req.NoError(err)
	_, err = receive(t, s)
	req.NoError(err)

	recvErr := make(chan error, 1)
	go func() {
		_, err := s.Receive(context.Background())
		recvErr <- err
	}()
	reqErr := make(chan error, 1)
	go func() {
		_, err := s.Request(context.Background(), protocol.OpContacts, protocol.ContactsRequest{ContactIDs: []int64{1}})
		reqErr <- err
	}()

	fs.waitFor(t, protocol.OpContacts)
	s.Close()
	s.Close()

	for _, ch := range []chan error{recvErr, reqErr} {
		select {
		case err := <-ch:
			req.ErrorIs(err, errs.ErrClosed)
		case <-time.After(2 * time.Second):
			t.Fatal("call did not unblock after Close")
		}
	}
	req.True(s.Closed())
	req.Equal(StateDisconnected, s.State())

	_, err = s.Open(context.Background(), goodToken)
	req.ErrorIs(err, errs.ErrClosed)
}

func TestPhoneAuthFlow(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	fs := newFakeServer(t, func(c *serverConn, f *protocol.Frame) bool {
		switch f.Opcode {
		case protocol.OpStartAuth:
			c.reply(t, f, `{"token":"verify-1"}`)
		case protocol.OpCheckCode:
			var p protocol.CheckCodeRequest
			require.NoError(t, f.Unmarshal(&p))
			if p.VerifyCode != "1234" {
				c.fail(t, f, `{"error":"verify.code.wrong","title":"Wrong code"}`)
				return true
			}
			c.reply(t, f, `{"tokenAttrs":{"LOGIN":{"token":"`+goodToken+`"}},"profile":{"id":42}}`)
		default:
			return false
		}
		return true
	})
	s := newTestSession(t, fs)
	req.NoError(s.Connect(context.Background()))

	verify, err := s.StartPhoneAuth(context.Background(), "+79990000000")
	req.NoError(err)
	req.Equal("verify-1", verify)

	_, _, err = s.CheckCode(context.Background(), verify, "0000")
	req.ErrorIs(err, errs.ErrVerifyCodeWrong)
	req.Equal(errs.CodeAuth, errs.Code(err))

	token, me, err := s.CheckCode(context.Background(), verify, "1234")
	req.NoError(err)
	req.Equal(goodToken, token)
	req.Equal(botID, me.ID())
	req.Equal(goodToken, s.Token())
}

func TestStateString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateAuthenticating, "authenticating"},
		{StateConnected, "connected"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, tt.state.String())
	}
}
