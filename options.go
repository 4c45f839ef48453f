package webmax

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used by the client and its components.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.baseLogger = logger
		}
	}
}

// WithMiddlewares installs message middlewares, outermost first.
func WithMiddlewares(mws ...Middleware) Option {
	return func(c *Client) {
		c.middlewares = append(c.middlewares, mws...)
	}
}

// TaskFunc is the body of a scheduled task.
type TaskFunc func(ctx context.Context, c *Client) error

// Task is a job run by the client's scheduler while Run is active. Exactly
// one of Schedule (cron expression, seconds field allowed) or Interval
// must be set.
type Task struct {
	Name     string
	Schedule string
	Interval time.Duration
	Func     TaskFunc
}

// WithTask schedules t for the lifetime of Run.
func WithTask(t Task) Option {
	return func(c *Client) {
		c.tasks = append(c.tasks, t)
	}
}

// WithDialer sets the base WebSocket dialer, for proxies or custom TLS.
// The handshake timeout and Origin still come from Config.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		c.wsDialer = d
	}
}

// WithCodePrompter sets the prompter Run uses when Config.Phone is set.
func WithCodePrompter(p CodePrompter) Option {
	return func(c *Client) {
		c.prompter = p
	}
}

// WithMetrics registers the client collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Client) {
		c.registerer = reg
	}
}

// WithDeviceID pins the device id sent in the hello frame. By default a
// random id is generated per client.
func WithDeviceID(id string) Option {
	return func(c *Client) {
		c.deviceID = id
	}
}
