// Package session manages the authenticated connection to the Max service:
// the connection state machine, the hello and login handshakes, the phone
// challenge, request/response correlation, the inbound event queue and
// reconnection.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/edgard/webmax/errs"
	"github.com/edgard/webmax/internal/protocol"
	"github.com/edgard/webmax/internal/resilience"
	"github.com/edgard/webmax/internal/transport"
	"github.com/edgard/webmax/models"
)

// State is the lifecycle state of a Session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Event is an inbound event handed to the dispatcher.
type Event interface {
	isEvent()
}

// ConnectReady is queued after every successful login, including logins
// performed by Reconnect. Receive drops it if its connection has since been
// replaced.
type ConnectReady struct {
	Me *models.User

	link *link
}

// MessageEvent carries a decoded message push.
type MessageEvent struct {
	Message *models.Message
}

// disconnected marks the point in the queue where a connection dropped.
type disconnected struct {
	link *link
	err  error
}

func (ConnectReady) isEvent() {}
func (MessageEvent) isEvent() {}
func (disconnected) isEvent() {}

// Observer records session activity. *metrics.Metrics implements it.
type Observer interface {
	RequestDone(opcode string, err error)
	Reconnected(err error)
	SetConnected(connected bool)
}

type nopObserver struct{}

func (nopObserver) RequestDone(string, error) {}
func (nopObserver) Reconnected(error) {}
func (nopObserver) SetConnected(bool) {}

// Config configures a Session.
type Config struct {
	Endpoint       string
	Dialer         transport.Dialer
	UserAgent      protocol.UserAgent
	DeviceID       string
	Language       string
	RequestTimeout time.Duration
	Retry          resilience.RetryConfig
	Observer       Observer
}

// Session is one logical login to the service. It survives reconnects:
// every reconnect opens a new link and logs in again with the last token.
type Session struct {
	cfg    Config
	logger *slog.Logger

	state atomic.Int32
	me    atomic.Pointer[models.User]

	mu    sync.Mutex
	link  *link
	token string

	queue     *eventQueue
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a disconnected session.
func New(cfg Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
	}
	if cfg.Language == "" {
		cfg.Language = "ru"
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	return &Session{
		cfg:    cfg,
		logger: logger.With("component", "session"),
		queue:  newEventQueue(),
		done:   make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		s.cfg.Observer.SetConnected(st == StateConnected)
		s.logger.Debug("Session state changed", "from", prev, "to", st)
	}
}

// Me reports the authenticated user id. ok is false before login.
func (s *Session) Me() (int64, bool) {
	u := s.me.Load()
	if u == nil {
		return 0, false
	}
	return u.ID(), true
}

// User returns the authenticated profile, or nil before login.
func (s *Session) User() *models.User {
	return s.me.Load()
}

// Token returns the last token used or issued for this session.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// SetToken replaces the token used by the next Login or Reconnect.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Pending returns the number of queued inbound events.
func (s *Session) Pending() int {
	return s.queue.len()
}

func (s *Session) current() *link {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link
}

// dropLink closes the current connection without queueing a disconnect.
func (s *Session) dropLink() {
	s.mu.Lock()
	l := s.link
	s.link = nil
	s.mu.Unlock()

	if l != nil {
		if err := l.conn.Close(); err != nil {
			s.logger.Debug("Error closing connection", "error", err)
		}
	}
}

// Connect dials the endpoint and performs the hello handshake. A previous
// connection, if any, is closed first.
func (s *Session) Connect(ctx context.Context) error {
	if s.Closed() {
		return errs.NewConnectionError("connect", errs.ErrClosed)
	}
	s.dropLink()
	s.me.Store(nil)
	s.setState(StateConnecting)

	conn, err := s.cfg.Dialer.Dial(ctx, s.cfg.Endpoint, s.logger)
	if err != nil {
		s.setState(StateDisconnected)
		return err
	}

	l := newLink(conn)
	s.mu.Lock()
	if s.Closed() {
		s.mu.Unlock()
		_ = conn.Close()
		s.setState(StateDisconnected)
		return errs.NewConnectionError("connect", errs.ErrClosed)
	}
	s.link = l
	s.mu.Unlock()

	go s.readPump(l)

	hello := protocol.HelloRequest{UserAgent: s.cfg.UserAgent, DeviceID: s.cfg.DeviceID}
	if _, err := s.Request(ctx, protocol.OpHello, hello); err != nil {
		s.dropLink()
		s.setState(StateDisconnected)
		var apiErr *errs.APIError
		if errors.As(err, &apiErr) {
			return errs.NewConnectionError("hello rejected", err)
		}
		return err
	}

	s.setState(StateAuthenticating)
	s.logger.Info("Connected to Max", "endpoint", s.cfg.Endpoint)
	return nil
}

// Login authenticates the connected session with token. On success the
// identity is stored, the token becomes the reconnect token and a
// ConnectReady event is queued.
func (s *Session) Login(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, errs.NewAuthError("login", errs.ErrNotAuthenticated)
	}
	s.setState(StateAuthenticating)

	l := s.current()
	if l == nil {
		s.setState(StateDisconnected)
		return nil, errs.NewConnectionError("login", errs.ErrNotConnected)
	}
	release := l.hold()
	defer release()

	resp, err := s.Request(ctx, protocol.OpLogin, protocol.LoginRequest{Interactive: true, Token: token})
	if err != nil {
		s.setState(StateDisconnected)
		var apiErr *errs.APIError
		if errors.As(err, &apiErr) {
			return nil, errs.NewAuthError("login rejected", err)
		}
		return nil, err
	}

	var payload protocol.LoginResponse
	if err := resp.Unmarshal(&payload); err != nil {
		s.setState(StateDisconnected)
		return nil, errs.NewProtocolError("login response", err)
	}
	if payload.Profile == nil {
		s.setState(StateDisconnected)
		return nil, errs.NewProtocolError("login response without profile", nil)
	}

	me := payload.Profile.ToUser()
	s.SetToken(token)
	s.me.Store(me)
	s.setState(StateConnected)
	s.queue.push(ConnectReady{Me: me, link: l})

	s.logger.Info("Session authenticated", "user_id", me.ID(), "name", me.Contact.DisplayName())
	return me, nil
}

// Open connects and logs in with token.
func (s *Session) Open(ctx context.Context, token string) (*models.User, error) {
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	return s.Login(ctx, token)
}

// StartPhoneAuth asks the service to send a verification code to phone and
// returns the verification token needed by CheckCode. The session must be
// connected.
func (s *Session) StartPhoneAuth(ctx context.Context, phone string) (string, error) {
	s.setState(StateAuthenticating)
	resp, err := s.Request(ctx, protocol.OpStartAuth, protocol.StartAuthRequest{
		Phone:    phone,
		Type:     "START_AUTH",
		Language: s.cfg.Language,
	})
	if err != nil {
		var apiErr *errs.APIError
		if errors.As(err, &apiErr) {
			return "", errs.NewAuthError("start phone auth", err)
		}
		return "", err
	}

	var payload protocol.StartAuthResponse
	if err := resp.Unmarshal(&payload); err != nil {
		return "", errs.NewProtocolError("start auth response", err)
	}
	if payload.Token == "" {
		return "", errs.NewProtocolError("start auth response without token", nil)
	}
	return payload.Token, nil
}

// CheckCode submits the SMS code. It returns the long-lived login token and
// the profile. A wrong code yields an AuthError matching
// errs.ErrVerifyCodeWrong.
func (s *Session) CheckCode(ctx context.Context, verifyToken, code string) (string, *models.User, error) {
	resp, err := s.Request(ctx, protocol.OpCheckCode, protocol.CheckCodeRequest{
		Token:         verifyToken,
		VerifyCode:    code,
		AuthTokenType: "CHECK_CODE",
	})
	if err != nil {
		var apiErr *errs.APIError
		if errors.As(err, &apiErr) {
			return "", nil, errs.NewAuthError("check code", err)
		}
		return "", nil, err
	}

	var payload protocol.CheckCodeResponse
	if err := resp.Unmarshal(&payload); err != nil {
		return "", nil, errs.NewProtocolError("check code response", err)
	}
	token := payload.TokenAttrs.Login.Token
	if token == "" {
		return "", nil, errs.NewProtocolError("check code response without login token", nil)
	}
	var me *models.User
	if payload.Profile != nil {
		me = payload.Profile.ToUser()
	}
	s.SetToken(token)
	return token, me, nil
}

// Request sends op with payload and waits for the response carrying the same
// seq. Service error payloads are returned as *errs.APIError; transport
// failures, timeouts and closed sessions as errs.ConnectionError.
func (s *Session) Request(ctx context.Context, op protocol.Opcode, payload any) (*protocol.Frame, error) {
	resp, err := s.roundTrip(ctx, op, payload)
	s.cfg.Observer.RequestDone(op.String(), err)
	return resp, err
}

func (s *Session) roundTrip(ctx context.Context, op protocol.Opcode, payload any) (*protocol.Frame, error) {
	l := s.current()
	if l == nil {
		return nil, errs.NewConnectionError(op.String(), errs.ErrNotConnected)
	}

	seq := l.nextSeq()
	frame, err := protocol.NewFrame(seq, op, payload)
	if err != nil {
		return nil, err
	}

	ch, err := l.register(seq)
	if err != nil {
		return nil, err
	}
	defer l.unregister(seq)

	if err := l.write(frame); err != nil {
		return nil, err
	}

	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	select {
	case resp := <-ch:
		if err := protocol.ResponseError(resp); err != nil {
			return resp, err
		}
		return resp, nil
	case <-l.dead:
		return nil, errs.NewConnectionError(op.String()+" request", l.failure())
	case <-s.done:
		return nil, errs.NewConnectionError(op.String()+" request", errs.ErrClosed)
	case <-ctx.Done():
		return nil, errs.NewConnectionError(fmt.Sprintf("%s request seq %d", op, seq), ctx.Err())
	}
}

// Send writes a frame without waiting for its response.
func (s *Session) Send(_ context.Context, op protocol.Opcode, payload any) error {
	l := s.current()
	if l == nil {
		return errs.NewConnectionError(op.String(), errs.ErrNotConnected)
	}
	frame, err := protocol.NewFrame(l.nextSeq(), op, payload)
	if err != nil {
		return err
	}
	return l.write(frame)
}

// Ping sends a keep-alive request and waits for its acknowledgment.
func (s *Session) Ping(ctx context.Context) error {
	_, err := s.Request(ctx, protocol.OpPing, protocol.PingRequest{Interactive: false})
	return err
}

// Receive blocks until the next inbound event. A dropped connection is
// reported as an errs.ConnectionError once every frame read before the drop
// has been returned; after Close it returns errs.ErrClosed.
func (s *Session) Receive(ctx context.Context) (Event, error) {
	for {
		select {
		case <-s.done:
			return nil, errs.ErrClosed
		default:
		}

		if ev, ok := s.queue.pop(); ok {
			switch e := ev.(type) {
			case disconnected:
				if e.link != s.current() {
					continue
				}
				s.setState(StateDisconnected)
				return nil, errs.NewConnectionError("connection lost", e.err)
			case ConnectReady:
				if e.link != nil && e.link != s.current() {
					s.logger.Debug("Skipping login event of a replaced connection")
					continue
				}
			}
			return ev, nil
		}

		select {
		case <-s.done:
			return nil, errs.ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.queue.notify:
		}
	}
}

// Reconnect re-establishes the connection and logs in with the last token,
// retrying with exponential backoff. Authentication failures are returned
// immediately.
func (s *Session) Reconnect(ctx context.Context) error {
	token := s.Token()
	if token == "" {
		return errs.NewAuthError("reconnect", errs.ErrNotAuthenticated)
	}

	cfg := s.cfg.Retry
	cfg.Retryable = errs.IsRetryable
	onRetry := cfg.OnRetry
	cfg.OnRetry = func(attempt int, next time.Duration, err error) {
		s.logger.Warn("Reconnect attempt failed", "attempt", attempt, "max_attempts", cfg.MaxAttempts, "next_interval", next, "error", err)
		if onRetry != nil {
			onRetry(attempt, next, err)
		}
	}

	s.logger.Info("Reconnecting", "max_attempts", cfg.MaxAttempts)
	err := resilience.WithRetry(ctx, func(ctx context.Context) error {
		_, err := s.Open(ctx, token)
		return err
	}, cfg)
	s.cfg.Observer.Reconnected(err)
	if err != nil {
		s.dropLink()
		s.setState(StateDisconnected)
		var authErr *errs.AuthError
		if errors.As(err, &authErr) {
			return err
		}
		if errors.Is(err, errs.ErrClosed) {
			return errs.ErrClosed
		}
		return errs.NewConnectionError("reconnect failed", err)
	}
	return nil
}

// Logout terminates the token server-side and closes the session.
func (s *Session) Logout(ctx context.Context) error {
	err := s.Send(ctx, protocol.OpLogout, nil)
	s.SetToken("")
	s.Close()
	return err
}

// Close closes the connection and unblocks Receive and pending requests.
// It is idempotent and safe to call from any goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		close(s.done)
		s.mu.Unlock()
		s.dropLink()
		s.setState(StateDisconnected)
		s.logger.Info("Session closed")
	})
}

// readPump owns all reads on one connection.
func (s *Session) readPump(l *link) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Read pump panic", "panic", r)
			l.fail(fmt.Errorf("read pump panic: %v", r))
			_ = l.conn.Close()
		}
	}()

	for {
		data, err := l.conn.ReadText()
		if err != nil {
			l.fail(err)
			if errors.Is(err, errs.ErrClosed) {
				return
			}
			s.logger.Warn("Connection dropped", "error", err)
			s.queue.push(disconnected{link: l, err: err})
			return
		}

		frame, err := protocol.Decode(data)
		if err != nil {
			s.logger.Warn("Skipping malformed frame", "error", errs.NewProtocolError("decode", err))
			continue
		}

		if frame.IsResponse() {
			if !l.deliver(frame) {
				s.logger.Debug("Dropping unsolicited response", "opcode", frame.Opcode, "seq", frame.Seq)
			} else if frame.Opcode == protocol.OpLogin {
				l.settle()
			}
			continue
		}

		s.handlePush(l, frame)
	}
}

func (s *Session) handlePush(l *link, frame *protocol.Frame) {
	switch frame.Opcode {
	case protocol.OpPing:
		pong, err := protocol.NewFrame(l.nextSeq(), protocol.OpPing, protocol.PingRequest{Interactive: false})
		if err == nil {
			err = l.write(pong)
		}
		if err != nil {
			s.logger.Warn("Failed to answer keep-alive", "error", err)
		}
	case protocol.OpMessagePush:
		var env protocol.MessageEnvelope
		if err := frame.Unmarshal(&env); err != nil {
			s.logger.Warn("Skipping message push", "seq", frame.Seq, "error", errs.NewProtocolError("message push", err))
			return
		}
		msg, err := env.ToModel(0)
		if err != nil {
			s.logger.Warn("Skipping message push", "seq", frame.Seq, "error", err)
			return
		}
		s.queue.push(MessageEvent{Message: msg})
	default:
		s.logger.Debug("Ignoring push", "opcode", frame.Opcode, "seq", frame.Seq)
	}
}
