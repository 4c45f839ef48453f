package session

import (
	"sync"
	"sync/atomic"

	"github.com/edgard/webmax/errs"
	"github.com/edgard/webmax/internal/protocol"
	"github.com/edgard/webmax/internal/transport"
)

// link is the per-connection state: its sequence counter and the requests
// waiting for a response on it. A new link is created for every connection
// so stale responses from an old socket can never reach a new waiter.
type link struct {
	conn *transport.Conn
	seq  atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan *protocol.Frame
	dead    chan struct{}
	err     error
	gate    chan struct{}
}

func newLink(conn *transport.Conn) *link {
	return &link{
		conn:    conn,
		pending: make(map[int64]chan *protocol.Frame),
		dead:    make(chan struct{}),
	}
}

func (l *link) nextSeq() int64 {
	return l.seq.Add(1) - 1
}

func (l *link) register(seq int64) (chan *protocol.Frame, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	select {
	case <-l.dead:
		return nil, errs.NewConnectionError("register request", l.err)
	default:
	}

	ch := make(chan *protocol.Frame, 1)
	l.pending[seq] = ch
	return ch, nil
}

func (l *link) unregister(seq int64) {
	l.mu.Lock()
	delete(l.pending, seq)
	l.mu.Unlock()
}

// deliver hands a response to its waiter. It reports false when no request
// is waiting on the frame's seq.
func (l *link) deliver(f *protocol.Frame) bool {
	l.mu.Lock()
	ch, ok := l.pending[f.Seq]
	if ok {
		delete(l.pending, f.Seq)
	}
	l.mu.Unlock()

	if ok {
		ch <- f
	}
	return ok
}

// fail marks the link dead and wakes every pending request.
func (l *link) fail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	select {
	case <-l.dead:
		return
	default:
	}
	l.err = err
	close(l.dead)
}

// hold makes the read pump pause after it delivers the next login
// response, until the returned release func is called. Events queued by the
// caller before release therefore precede every frame read after the ack.
func (l *link) hold() (release func()) {
	gate := make(chan struct{})
	l.mu.Lock()
	l.gate = gate
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		if l.gate == gate {
			l.gate = nil
		}
		l.mu.Unlock()
		close(gate)
	}
}

// settle blocks while a hold is active.
func (l *link) settle() {
	l.mu.Lock()
	gate := l.gate
	l.mu.Unlock()
	if gate != nil {
		<-gate
	}
}

func (l *link) failure() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err == nil {
		return errs.ErrNotConnected
	}
	return l.err
}

func (l *link) write(f *protocol.Frame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return errs.NewProtocolError("encode "+f.Opcode.String(), err)
	}
	return l.conn.WriteText(data)
}
