// Package webmax is a client for the Max messenger WebSocket API.
//
// A Client keeps one authenticated session open, receives pushed messages
// and hands them to handlers selected with the filters package:
//
//	client, err := webmax.New(webmax.Config{Token: token})
//	if err != nil {
//		return err
//	}
//	client.OnMessage(filters.And(filters.Command("ping"), filters.Not(filters.Me())),
//		func(ctx context.Context, c *webmax.Client, msg *models.Message) error {
//			_, err := c.Reply(ctx, msg, "pong")
//			return err
//		})
//	return client.Run(ctx)
//
// Handlers run one at a time on a single listener goroutine, in the order
// they were registered. A slow handler delays every later message, so long
// work belongs in a goroutine of its own.
package webmax

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/edgard/webmax/errs"
	"github.com/edgard/webmax/internal/dispatch"
	"github.com/edgard/webmax/internal/metrics"
	"github.com/edgard/webmax/internal/resilience"
	"github.com/edgard/webmax/internal/scheduler"
	"github.com/edgard/webmax/internal/session"
	"github.com/edgard/webmax/internal/transport"
	"github.com/edgard/webmax/models"
)

const keepAliveTask = "keepalive"

// Client is a Max messenger client. Create it with New, register handlers
// and call Run.
type Client struct {
	cfg        Config
	baseLogger *slog.Logger
	logger     *slog.Logger

	wsDialer   *websocket.Dialer
	prompter   CodePrompter
	registerer prometheus.Registerer
	deviceID   string
	tasks      []Task

	session    *session.Session
	dispatcher *dispatch.Dispatcher
	scheduler  *scheduler.Scheduler
	metrics    *metrics.Metrics

	mu          sync.Mutex
	middlewares []Middleware
	started     bool
	cancel      context.CancelFunc
	finished    chan struct{}
}

// New validates cfg and builds a client. Zero fields of cfg take their
// DefaultConfig values.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:        cfg,
		baseLogger: slog.Default(),
		finished:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.baseLogger.With("component", "client")

	var sessionObs session.Observer
	var dispatchObs dispatch.Observer
	if c.registerer != nil {
		m, err := metrics.New(c.registerer)
		if err != nil {
			return nil, errs.NewConfigError("register metrics", err)
		}
		c.metrics = m
		sessionObs, dispatchObs = m, m
	}

	c.session = session.New(session.Config{
		Endpoint: cfg.Endpoint,
		Dialer: transport.Dialer{
			Base:             c.wsDialer,
			HandshakeTimeout: cfg.HandshakeTimeout,
			Origin:           cfg.Origin,
			UserAgent:        cfg.UserAgent.HeaderUserAgent,
		},
		UserAgent:      cfg.UserAgent.wire(),
		DeviceID:       c.deviceID,
		Language:       cfg.UserAgent.Locale,
		RequestTimeout: cfg.RequestTimeout,
		Retry:          cfg.Reconnect.retry(),
		Observer:       sessionObs,
	}, c.baseLogger)

	c.dispatcher = dispatch.New(c.session, c.baseLogger, dispatchObs)

	sched, err := scheduler.New(c.baseLogger)
	if err != nil {
		return nil, err
	}
	c.scheduler = sched

	if cfg.KeepAliveInterval > 0 {
		if err := sched.Add(scheduler.Task{
			Name:     keepAliveTask,
			Interval: cfg.KeepAliveInterval,
			Func:     c.keepAlive,
		}); err != nil {
			return nil, err
		}
	}
	for _, t := range c.tasks {
		if err := c.addTask(t); err != nil {
			return nil, errs.NewConfigError("invalid task", err)
		}
	}

	return c, nil
}

func (c *Client) addTask(t Task) error {
	fn := t.Func
	var run scheduler.TaskFunc
	if fn != nil {
		run = func(ctx context.Context) error {
			return fn(context.WithValue(ctx, taskKey{}, true), c)
		}
	}
	return c.scheduler.Add(scheduler.Task{
		Name:     t.Name,
		Schedule: t.Schedule,
		Interval: t.Interval,
		Func:     run,
	})
}

func (c *Client) keepAlive(ctx context.Context) error {
	if c.session.State() != session.StateConnected {
		return nil
	}
	return c.session.Ping(ctx)
}

type taskKey struct{}

// Run connects, authenticates and serves handlers and scheduled tasks
// until Stop is called or ctx is cancelled, in which case it returns nil.
// Authentication failures and exhausted reconnects are returned as typed
// errors from the errs package. Run may be called once.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("webmax: client already started")
	}
	if c.session.Closed() {
		c.mu.Unlock()
		return errs.ErrClosed
	}
	c.started = true
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	defer close(c.finished)
	defer cancel()
	defer c.session.Close()

	if err := c.login(runCtx); err != nil {
		if c.session.Closed() || runCtx.Err() != nil {
			return nil
		}
		c.logger.ErrorContext(ctx, "Login failed", "error", err)
		return err
	}

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer cancel()
		return c.dispatcher.Run(gctx)
	})

	g.Go(func() error {
		if err := c.scheduler.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		return c.scheduler.Stop()
	})

	g.Go(func() error {
		<-gctx.Done()
		c.session.Close()
		return nil
	})

	c.logger.InfoContext(ctx, "Client running", "user_id", c.session.User().ID())
	err := g.Wait()
	if err != nil {
		c.logger.ErrorContext(ctx, "Client stopped with error", "error", err)
		return err
	}
	c.logger.InfoContext(ctx, "Client stopped")
	return nil
}

// login authenticates with the configured token, retrying connection
// failures, or runs the phone challenge.
func (c *Client) login(ctx context.Context) error {
	if c.cfg.Token != "" {
		retry := c.cfg.Reconnect.retry()
		retry.Retryable = errs.IsRetryable
		return resilience.WithRetry(ctx, func(ctx context.Context) error {
			_, err := c.session.Open(ctx, c.cfg.Token)
			return err
		}, retry)
	}

	_, _, err := c.Auth(ctx, c.cfg.Phone, c.prompter)
	return err
}

// Stop closes the session and waits for Run to return. In-flight handlers
// run to completion; no handler starts afterwards.
//
// When called from a handler or a task with the context it was given,
// Stop does not wait, since the caller itself is what Run waits for.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	started, cancel := c.started, c.cancel
	c.mu.Unlock()

	c.session.Close()
	if cancel != nil {
		cancel()
	}

	if !started || dispatch.InHandler(ctx) || ctx.Value(taskKey{}) != nil {
		return nil
	}

	select {
	case <-c.finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Me returns the authenticated profile, or nil before login.
func (c *Client) Me() *models.User {
	return c.session.User()
}

// Token returns the session token. After a phone login it is the newly
// issued token, which callers should persist.
func (c *Client) Token() string {
	return c.session.Token()
}

// Connected reports whether the session is authenticated right now.
func (c *Client) Connected() bool {
	return c.session.State() == session.StateConnected
}

// Ping sends a keep-alive request and waits for the acknowledgment.
func (c *Client) Ping(ctx context.Context) error {
	return c.session.Ping(ctx)
}

// Logout terminates the session token on the server and stops the client.
// The token cannot be used again.
func (c *Client) Logout(ctx context.Context) error {
	err := c.session.Logout(ctx)
	if stopErr := c.Stop(ctx); stopErr != nil && err == nil {
		err = stopErr
	}
	return err
}
