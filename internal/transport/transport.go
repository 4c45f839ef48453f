// Package transport wraps a gorilla/websocket connection with the small
// surface the session needs: serialized writes, blocking reads and an
// idempotent close.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edgard/webmax/errs"
)

const (
	writeTimeout      = 10 * time.Second
	closeWriteTimeout = time.Second
)

// Dialer holds the handshake settings used for every new connection.
// Base, when set, is copied for every dial so callers can supply a proxy
// or TLS configuration.
type Dialer struct {
	Base             *websocket.Dialer
	HandshakeTimeout time.Duration
	Origin           string
	UserAgent        string
}

// Conn is a single WebSocket connection.
type Conn struct {
	ws     *websocket.Conn
	logger *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to endpoint. Any failure is reported as an
// errs.ConnectionError.
func (d Dialer) Dial(ctx context.Context, endpoint string, logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	wsDialer := websocket.Dialer{Proxy: http.ProxyFromEnvironment}
	if d.Base != nil {
		wsDialer = *d.Base
	}
	if d.HandshakeTimeout > 0 {
		wsDialer.HandshakeTimeout = d.HandshakeTimeout
	}

	header := http.Header{}
	if d.Origin != "" {
		header.Set("Origin", d.Origin)
	}
	if d.UserAgent != "" {
		header.Set("User-Agent", d.UserAgent)
	}

	ws, resp, err := wsDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (http status %d)", err, resp.StatusCode)
		}
		return nil, errs.NewConnectionError("dial "+endpoint, err)
	}

	logger.Debug("WebSocket connection established", "endpoint", endpoint)
	return &Conn{
		ws:     ws,
		logger: logger,
		closed: make(chan struct{}),
	}, nil
}

// WriteText sends one text message. Writes are serialized because gorilla
// connections allow a single concurrent writer.
func (c *Conn) WriteText(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closed:
		return errs.NewConnectionError("write", errs.ErrClosed)
	default:
	}

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return errs.NewConnectionError("write", err)
	}
	return nil
}

// ReadText blocks until the next data message arrives or the connection
// fails. After Close it returns a ConnectionError wrapping errs.ErrClosed.
func (c *Conn) ReadText() ([]byte, error) {
	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				return nil, errs.NewConnectionError("read", errs.ErrClosed)
			default:
			}
			return nil, errs.NewConnectionError("read", err)
		}
		if typ == websocket.TextMessage || typ == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// Closed is closed once Close has been called.
func (c *Conn) Closed() <-chan struct{} {
	return c.closed
}

// Close sends a close frame and releases the connection. It is safe to call
// more than once and from any goroutine, including while a read or write is
// blocked.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if werr := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout)); werr != nil &&
			!errors.Is(werr, websocket.ErrCloseSent) {
			c.logger.Debug("Failed to send close frame", "error", werr)
		}

		err = c.ws.Close()
	})
	return err
}
