package webmax

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/edgard/webmax/internal/protocol"
)

const (
	testToken = "test-token"
	testBotID = int64(42)
)

// fakeMax is a minimal Max endpoint: it answers hello, login and ping and
// lets each test script the rest through onFrame.
type fakeMax struct {
	t       *testing.T
	url     string
	onFrame func(c *fakeConn, f *protocol.Frame) bool

	mu     sync.Mutex
	frames []*protocol.Frame
	conns  []*fakeConn
}

type fakeConn struct {
	t  *testing.T
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *fakeConn) write(f protocol.Frame) {
	data, err := json.Marshal(f)
	require.NoError(c.t, err)
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *fakeConn) ok(req *protocol.Frame, payload string) {
	c.write(protocol.Frame{Ver: protocol.Version, Cmd: protocol.CmdOK, Seq: req.Seq, Opcode: req.Opcode, Payload: json.RawMessage(payload)})
}

func (c *fakeConn) fail(req *protocol.Frame, payload string) {
	c.write(protocol.Frame{Ver: protocol.Version, Cmd: protocol.CmdError, Seq: req.Seq, Opcode: req.Opcode, Payload: json.RawMessage(payload)})
}

func (c *fakeConn) push(payload string) {
	c.write(protocol.Frame{Ver: protocol.Version, Opcode: protocol.OpMessagePush, Payload: json.RawMessage(payload)})
}

func newFakeMax(t *testing.T, onFrame func(c *fakeConn, f *protocol.Frame) bool) *fakeMax {
	t.Helper()
	fm := &fakeMax{t: t, onFrame: onFrame}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		conn := &fakeConn{t: t, ws: ws}
		fm.mu.Lock()
		fm.conns = append(fm.conns, conn)
		fm.mu.Unlock()

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			f, err := protocol.Decode(data)
			if err != nil {
				continue
			}
			fm.mu.Lock()
			fm.frames = append(fm.frames, f)
			fm.mu.Unlock()

			if fm.onFrame != nil && fm.onFrame(conn, f) {
				continue
			}
			switch f.Opcode {
			case protocol.OpHello, protocol.OpPing, protocol.OpSettings, protocol.OpDeleteMsg:
				conn.ok(f, `{}`)
			case protocol.OpLogin:
				var p protocol.LoginRequest
				require.NoError(t, f.Unmarshal(&p))
				if p.Token != testToken {
					conn.fail(f, `{"error":"login.token","title":"Invalid token"}`)
					continue
				}
				conn.ok(f, `{"profile":{"id":42,"names":[{"name":"Test Bot"}]}}`)
			}
		}
	}))
	t.Cleanup(srv.Close)
	fm.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return fm
}

// sent returns the frames received with opcode op.
func (fm *fakeMax) sent(op protocol.Opcode) []*protocol.Frame {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	var out []*protocol.Frame
	for _, f := range fm.frames {
		if f.Opcode == op {
			out = append(out, f)
		}
	}
	return out
}

func (fm *fakeMax) connections() int {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return len(fm.conns)
}

func testConfig(fm *fakeMax) Config {
	return Config{
		Token:             testToken,
		Endpoint:          fm.url,
		RequestTimeout:    2 * time.Second,
		HandshakeTimeout:  time.Second,
		KeepAliveInterval: -1,
		Reconnect: ReconnectConfig{
			MaxAttempts:     2,
			InitialInterval: 5 * time.Millisecond,
			MaxInterval:     10 * time.Millisecond,
			Multiplier:      2,
		},
	}
}

// last returns the most recent connection.
func (fm *fakeMax) last() *fakeConn {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	if len(fm.conns) == 0 {
		return nil
	}
	return fm.conns[len(fm.conns)-1]
}
