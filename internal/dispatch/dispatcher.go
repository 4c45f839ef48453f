// Package dispatch runs the listener loop: it pulls events from the session
// and invokes the registered handlers whose filters match.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/edgard/webmax/errs"
	"github.com/edgard/webmax/filters"
	"github.com/edgard/webmax/internal/session"
	"github.com/edgard/webmax/models"
)

// Source is the event source the dispatcher drains. *session.Session
// implements it.
type Source interface {
	filters.Identity
	Receive(ctx context.Context) (session.Event, error)
	Reconnect(ctx context.Context) error
	Closed() bool
}

// MessageFunc handles one inbound message.
type MessageFunc func(ctx context.Context, msg *models.Message) error

// ConnectFunc runs after every successful login.
type ConnectFunc func(ctx context.Context, me *models.User) error

// Observer records dispatch activity. *metrics.Metrics implements it.
type Observer interface {
	EventReceived(kind string)
	HandlerDone(handler string, d time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) EventReceived(string) {}
func (nopObserver) HandlerDone(string, time.Duration, error) {}

// Kind is the event kind a registration listens to.
type Kind int

const (
	KindMessage Kind = iota
	KindConnect
)

func (k Kind) String() string {
	if k == KindConnect {
		return "connect"
	}
	return "message"
}

// Registration identifies one registered handler.
type Registration struct {
	id      uint64
	kind    Kind
	name    string
	filter  filters.Filter
	message MessageFunc
	connect ConnectFunc
}

// Name returns the handler name used in logs and HandlerErrors.
func (r *Registration) Name() string { return r.name }

// Kind returns the event kind the handler listens to.
func (r *Registration) Kind() Kind { return r.kind }

type handlerKey struct{}

// InHandler reports whether ctx belongs to a handler invocation.
func InHandler(ctx context.Context) bool {
	v, _ := ctx.Value(handlerKey{}).(bool)
	return v
}

// Dispatcher holds the ordered registrations and runs the listener loop.
// Registration is safe at any time, including while Run is active; a
// handler added during dispatch of an event takes effect from the next
// event.
type Dispatcher struct {
	src      Source
	logger   *slog.Logger
	observer Observer

	mu     sync.RWMutex
	regs   []*Registration
	nextID uint64
}

// New creates a dispatcher draining src. obs may be nil.
func New(src Source, logger *slog.Logger, obs Observer) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if obs == nil {
		obs = nopObserver{}
	}
	return &Dispatcher{
		src:      src,
		logger:   logger.With("component", "dispatcher"),
		observer: obs,
	}
}

// HandleMessage registers fn for messages matching f. A nil filter matches
// every message.
func (d *Dispatcher) HandleMessage(name string, f filters.Filter, fn MessageFunc) *Registration {
	if f == nil {
		f = filters.Any()
	}
	if name == "" {
		name = "message " + filters.Describe(f)
	}
	return d.add(&Registration{kind: KindMessage, name: name, filter: f, message: fn})
}

// HandleConnect registers fn to run after every successful login.
func (d *Dispatcher) HandleConnect(name string, fn ConnectFunc) *Registration {
	return d.add(&Registration{kind: KindConnect, name: name, connect: fn})
}

func (d *Dispatcher) add(r *Registration) *Registration {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	r.id = d.nextID
	if r.name == "" {
		r.name = fmt.Sprintf("%s#%d", r.kind, r.id)
	}
	d.regs = append(d.regs, r)
	return r
}

// Remove drops a registration. It reports whether r was registered.
func (d *Dispatcher) Remove(r *Registration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, reg := range d.regs {
		if reg == r {
			d.regs = append(d.regs[:i:i], d.regs[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of registrations.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.regs)
}

func (d *Dispatcher) snapshot() []*Registration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]*Registration(nil), d.regs...)
}

// Run drains the source until it is closed or ctx is cancelled, in which
// case it returns nil. A dropped connection triggers Reconnect; a failed
// reconnect ends the loop with that error.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.InfoContext(ctx, "Listener started")
	defer d.logger.InfoContext(ctx, "Listener stopped")

	for {
		ev, err := d.src.Receive(ctx)
		if err != nil {
			if errors.Is(err, errs.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			if !errs.IsRetryable(err) {
				return err
			}

			d.logger.WarnContext(ctx, "Connection lost, reconnecting", "error", err)
			if rerr := d.src.Reconnect(ctx); rerr != nil {
				if errors.Is(rerr, errs.ErrClosed) || ctx.Err() != nil {
					return nil
				}
				d.logger.ErrorContext(ctx, "Reconnect failed", "error", rerr)
				return rerr
			}
			continue
		}

		d.Dispatch(ctx, ev)
	}
}

// Dispatch runs every matching handler for ev in registration order. It
// stops early only if the source is closed between two handlers.
func (d *Dispatcher) Dispatch(ctx context.Context, ev session.Event) {
	hctx := context.WithValue(ctx, handlerKey{}, true)

	switch e := ev.(type) {
	case session.ConnectReady:
		d.observer.EventReceived(KindConnect.String())
		for _, r := range d.snapshot() {
			if r.kind != KindConnect {
				continue
			}
			if d.src.Closed() {
				return
			}
			d.invoke(hctx, r, func(ctx context.Context) error { return r.connect(ctx, e.Me) })
		}
	case session.MessageEvent:
		if e.Message == nil {
			return
		}
		d.observer.EventReceived(KindMessage.String())
		for _, r := range d.snapshot() {
			if r.kind != KindMessage {
				continue
			}
			if d.src.Closed() {
				return
			}
			if !d.matches(hctx, r, e.Message) {
				continue
			}
			d.invoke(hctx, r, func(ctx context.Context) error { return r.message(ctx, e.Message) })
		}
	default:
		d.logger.DebugContext(ctx, "Ignoring event", "type", fmt.Sprintf("%T", ev))
	}
}

// matches evaluates r's filter. A panicking filter counts as a miss.
func (d *Dispatcher) matches(ctx context.Context, r *Registration, msg *models.Message) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.ErrorContext(ctx, "Filter panicked", "handler", r.name, "filter", filters.Describe(r.filter), "panic", rec)
			ok = false
		}
	}()
	return r.filter.Match(d.src, msg)
}

func (d *Dispatcher) invoke(ctx context.Context, r *Registration, call func(context.Context) error) {
	start := time.Now()
	err := safeCall(ctx, call)
	d.observer.HandlerDone(r.name, time.Since(start), err)
	if err != nil {
		herr := errs.NewHandlerError(r.name, err)
		d.logger.ErrorContext(ctx, "Handler failed",
			"handler", r.name,
			"kind", r.kind,
			"duration", time.Since(start),
			"error", herr,
		)
		return
	}
	d.logger.DebugContext(ctx, "Handler finished", "handler", r.name, "duration", time.Since(start))
}

func safeCall(ctx context.Context, call func(context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v\n%s", rec, debug.Stack())
		}
	}()
	return call(ctx)
}
