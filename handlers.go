package webmax

import (
	"context"

	"github.com/edgard/webmax/filters"
	"github.com/edgard/webmax/internal/dispatch"
	"github.com/edgard/webmax/models"
)

// MessageHandler handles one inbound message. A returned error is logged
// as an errs.HandlerError and does not stop the client.
type MessageHandler func(ctx context.Context, c *Client, msg *models.Message) error

// ConnectHandler runs after every successful login, including logins made
// by automatic reconnects.
type ConnectHandler func(ctx context.Context, c *Client) error

// Middleware wraps message handlers. Middlewares apply to every message
// handler, including handlers registered before Use was called.
type Middleware func(next MessageHandler) MessageHandler

// Registration is a handle to a registered handler.
type Registration struct {
	client *Client
	reg    *dispatch.Registration
}

// Name returns the name used for the handler in logs and errors.
func (r Registration) Name() string {
	if r.reg == nil {
		return ""
	}
	return r.reg.Name()
}

// Remove unregisters the handler. It takes effect from the next event.
func (r Registration) Remove() bool {
	if r.client == nil || r.reg == nil {
		return false
	}
	return r.client.dispatcher.Remove(r.reg)
}

// OnMessage registers h for messages matching f. Handlers run on the
// listener goroutine in registration order, and every matching handler
// runs. A nil filter matches every message.
func (c *Client) OnMessage(f filters.Filter, h MessageHandler) Registration {
	return c.Handle("", f, h)
}

// Handle is OnMessage with an explicit handler name.
func (c *Client) Handle(name string, f filters.Filter, h MessageHandler) Registration {
	reg := c.dispatcher.HandleMessage(name, f, func(ctx context.Context, msg *models.Message) error {
		return c.chain(h)(ctx, c, msg)
	})
	return Registration{client: c, reg: reg}
}

// OnConnect registers h to run after every successful login.
func (c *Client) OnConnect(h ConnectHandler) Registration {
	reg := c.dispatcher.HandleConnect("", func(ctx context.Context, _ *models.User) error {
		return h(ctx, c)
	})
	return Registration{client: c, reg: reg}
}

// Use appends message middlewares.
func (c *Client) Use(mws ...Middleware) {
	c.mu.Lock()
	c.middlewares = append(c.middlewares, mws...)
	c.mu.Unlock()
}

func (c *Client) chain(h MessageHandler) MessageHandler {
	c.mu.Lock()
	mws := append([]Middleware(nil), c.middlewares...)
	c.mu.Unlock()

	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
