package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/cryptolctl/internal/protocol"
)

var errClosed = errors.New("session closed")

// Option customizes a Session.
type Option func(*Session)

// WithTransport replaces the HTTP transport, e.g. with an in-memory fake.
func WithTransport(t Transport) Option {
	return func(s *Session) {
		s.transport = t
	}
}

func WithHooks(hooks ...CallHook) Option {
	return func(s *Session) {
		s.hooks = append(s.hooks, hooks...)
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// Session is one logical connection to a server. It owns the state handle
// and threads it through every request. The handle is replaced only by a
// successful response.
type Session struct {
	cfg       Config
	id        string
	endpoint  string
	transport Transport
	builder   *protocol.Builder
	pending   *PendingTable
	hooks     []CallHook
	logger    zerolog.Logger
	rng       *rand.Rand
	closed    atomic.Bool

	mu      sync.Mutex
	state   protocol.StateHandle
	history []protocol.Params

	// replayPending is set when a replay stopped partway; the state then
	// holds only a prefix of history.
	replayPending bool
}

// New prepares a Session without contacting the server.
func New(cfg Config, opts ...Option) (*Session, error) {
	cfg = cfg.WithDefaults()
	s := &Session{
		cfg:      cfg,
		id:       uuid.NewString(),
		endpoint: cfg.Endpoint,
		builder:  protocol.NewBuilder(),
		pending:  NewPendingTable(),
		logger:   log.Logger,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.transport == nil {
		t, err := NewHTTPTransport(cfg)
		if err != nil {
			return nil, protocol.ValidationError("", err)
		}
		s.transport = t
		s.endpoint = t.Endpoint()
	}
	s.logger = s.logger.With().Str("session", s.id).Logger()
	return s, nil
}

// Connect creates a Session and bootstraps its first state handle.
func Connect(ctx context.Context, cfg Config, opts ...Option) (*Session, error) {
	s, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.Bootstrap(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Endpoint() string {
	return s.endpoint
}

// State returns the current handle; empty before bootstrap.
func (s *Session) State() protocol.StateHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns the successful loads in the order they were issued.
func (s *Session) History() []protocol.Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Params(nil), s.history...)
}

// Pending lists requests currently awaiting a response.
func (s *Session) Pending() []PendingRequest {
	return s.pending.List()
}

func (s *Session) Closed() bool {
	return s.closed.Load()
}

// Bootstrap loads the configured prelude module with no state, retrying only
// failures where the request never reached the server. On success the state
// and load history start over; on failure both are left as they were.
func (s *Session) Bootstrap(ctx context.Context) error {
	params := protocol.LoadModuleParams{ModuleName: s.cfg.BootstrapModule}
	if s.cfg.MaxOccupancy > 0 {
		ctx = WithHeader(ctx, HeaderMaxOccupancy, occupancyHeader(s.cfg.MaxOccupancy))
	}
	for attempt := 1; ; attempt++ {
		_, _, err := s.send(ctx, params, attempt, true)
		if err == nil {
			return nil
		}
		if !retryableBootstrap(err) || !s.shouldRetry(attempt) {
			return err
		}
		s.logger.Warn().Err(err).Int("attempt", attempt).Str("endpoint", s.endpoint).Msg("bootstrap failed, retrying")
		if werr := waitBackoff(ctx, s.cfg.Backoff, attempt, s.rng); werr != nil {
			return err
		}
	}
}

func retryableBootstrap(err error) bool {
	var perr *protocol.Error
	if !errors.As(err, &perr) {
		return false
	}
	return perr.Category == protocol.CategoryTransport && perr.Kind == protocol.KindConnection && !perr.OutcomeUnknown
}

func (s *Session) shouldRetry(attempt int) bool {
	if s.cfg.MaxConnectAttempts <= 0 {
		return true
	}
	return attempt < s.cfg.MaxConnectAttempts
}

// Send issues one request against the current state and adopts the returned
// state on success. It is never retried.
func (s *Session) Send(ctx context.Context, params protocol.Params) (protocol.Result, error) {
	_, res, err := s.send(ctx, params, 1, false)
	return res, err
}

// Exchange is Send that also returns the request as sent, for attributing
// answer decoding failures to a method and id.
func (s *Session) Exchange(ctx context.Context, params protocol.Params) (protocol.Request, protocol.Result, error) {
	return s.send(ctx, params, 1, false)
}

func (s *Session) send(ctx context.Context, params protocol.Params, attempt int, bootstrap bool) (protocol.Request, protocol.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return protocol.Request{}, protocol.Result{}, s.closedError(params)
	}
	state := s.state
	if bootstrap {
		state = ""
	}

	req, err := s.builder.Build(params, state)
	if err != nil {
		return protocol.Request{}, protocol.Result{}, err
	}
	res, err := s.roundTrip(ctx, req, attempt, bootstrap)
	if err != nil {
		return req, protocol.Result{}, err
	}
	s.state = res.State
	if bootstrap {
		s.history = nil
		s.replayPending = false
	}
	if protocol.Loads(params) {
		s.history = append(s.history, params)
	}
	return req, res, nil
}

func (s *Session) roundTrip(ctx context.Context, req protocol.Request, attempt int, bootstrap bool) (protocol.Result, error) {
	if _, ok := ctx.Deadline(); !ok && s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	info := CallInfo{
		SessionID: s.id,
		Endpoint:  s.endpoint,
		Method:    req.Method,
		RequestID: req.ID,
		Bootstrap: bootstrap,
		Attempt:   attempt,
	}
	ctx = WithHeader(ctx, HeaderSessionID, s.id)
	ctx, runs := startHooks(ctx, s.hooks, info)
	start := time.Now()

	res, err := s.exchange(ctx, req, start)
	stats := CallStats{Duration: time.Since(start), StateChanged: err == nil && res.State != req.State}
	endHooks(ctx, runs, info, stats, err)

	if err != nil {
		ev := s.logger.Warn()
		if errors.Is(err, protocol.ErrApplication) {
			ev = s.logger.Debug()
		}
		ev.Err(err).Str("method", string(req.Method)).Uint64("id", req.ID).Dur("duration", stats.Duration).Msg("call failed")
		return protocol.Result{}, err
	}
	s.logger.Debug().Str("method", string(req.Method)).Uint64("id", req.ID).Dur("duration", stats.Duration).
		Bool("state_changed", stats.StateChanged).Msg("call")
	return res, nil
}

func (s *Session) exchange(ctx context.Context, req protocol.Request, start time.Time) (protocol.Result, error) {
	item := PendingRequest{ID: req.ID, Method: req.Method, SentAt: start}
	if dl, ok := ctx.Deadline(); ok {
		item.DeadlineAt = dl
	}
	if !s.pending.Add(item) {
		return protocol.Result{}, protocol.TransportError(req.Method, req.ID, protocol.KindCorrelationMismatch, false,
			fmt.Errorf("request id %d already pending", req.ID))
	}
	defer s.pending.Remove(req.ID)

	resp, err := s.transport.RoundTrip(ctx, req)
	if err != nil {
		return protocol.Result{}, asTransportError(ctx, req, err)
	}
	if id, ok := resp.RequestID(); ok {
		if _, pending := s.pending.Resolve(id); !pending {
			return protocol.Result{}, protocol.TransportError(req.Method, req.ID, protocol.KindCorrelationMismatch, true,
				fmt.Errorf("response id %d matches no pending request", id))
		}
	}
	return protocol.Interpret(req, resp)
}

func asTransportError(ctx context.Context, req protocol.Request, err error) error {
	var perr *protocol.Error
	if errors.As(err, &perr) {
		return err
	}
	return classifyHTTPError(ctx, req, err)
}

// Notify sends a notification. Notifications carry no state and bypass the
// request lock so that an interrupt can reach the server while a call is
// in flight.
func (s *Session) Notify(ctx context.Context, params protocol.Params) error {
	if s.closed.Load() {
		return s.closedError(params)
	}
	req, err := s.builder.Notification(params, "")
	if err != nil {
		return err
	}
	if _, ok := ctx.Deadline(); !ok && s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	info := CallInfo{SessionID: s.id, Endpoint: s.endpoint, Method: req.Method, Notification: true, Attempt: 1}
	ctx = WithHeader(ctx, HeaderSessionID, s.id)
	ctx, runs := startHooks(ctx, s.hooks, info)
	start := time.Now()
	err = s.transport.Notify(ctx, req)
	if err != nil {
		err = asTransportError(ctx, req, err)
	}
	endHooks(ctx, runs, info, CallStats{Duration: time.Since(start)}, err)
	if err != nil {
		s.logger.Warn().Err(err).Str("method", string(req.Method)).Msg("notification failed")
		return err
	}
	s.logger.Debug().Str("method", string(req.Method)).Msg("notification")
	return nil
}

// Reset asks the server to drop the current state, then bootstraps a fresh
// one. The load history is cleared.
func (s *Session) Reset(ctx context.Context) error {
	if state := s.State(); !state.IsZero() {
		if err := s.Notify(ctx, protocol.ClearStateParams{StateToClear: state}); err != nil {
			return err
		}
	}
	s.forget()
	return s.Bootstrap(ctx)
}

// ResetServer asks the server to drop every state it holds, then bootstraps
// a fresh one.
func (s *Session) ResetServer(ctx context.Context) error {
	if err := s.Notify(ctx, protocol.ClearAllStatesParams{}); err != nil {
		return err
	}
	s.forget()
	return s.Bootstrap(ctx)
}

// Resync probes the current state. When the server no longer recognizes it,
// the session starts from no state and replays its load history in order.
// If the replay fails, the full history is kept and the next Resync replays
// it again without probing.
func (s *Session) Resync(ctx context.Context) error {
	if !s.ReplayPending() {
		_, err := s.Send(ctx, protocol.FocusedModuleParams{})
		if err == nil {
			return nil
		}
		if !errors.Is(err, protocol.ErrApplication) {
			return err
		}
		s.logger.Warn().Err(err).Msg("state rejected, replaying load history")
	}

	history := s.forget()
	if len(history) == 0 {
		history = []protocol.Params{protocol.LoadModuleParams{ModuleName: s.cfg.BootstrapModule}}
	}
	for i, params := range history {
		if _, err := s.Send(ctx, params); err != nil {
			s.replayFailed(history)
			s.logger.Warn().Err(err).Int("replayed", i).Int("total", len(history)).Msg("load history replay interrupted")
			return err
		}
	}
	return nil
}

// ReplayPending reports whether a Resync stopped before replaying the whole
// load history.
func (s *Session) ReplayPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replayPending
}

func (s *Session) replayFailed(history []protocol.Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append([]protocol.Params(nil), history...)
	s.replayPending = true
}

func (s *Session) forget() []protocol.Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.history
	s.history = nil
	s.state = ""
	s.replayPending = false
	return history
}

// Close releases the transport. Later calls fail with a session-closed
// transport error. Close is idempotent.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.logger.Debug().Msg("session closed")
	return s.transport.Close()
}

func (s *Session) closedError(params protocol.Params) error {
	var method protocol.Method
	if params != nil {
		method = params.Method()
	}
	return protocol.TransportError(method, 0, protocol.KindSessionClosed, false, errClosed)
}
