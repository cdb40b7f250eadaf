package cryptol

import (
	"context"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/danmuck/cryptolctl/internal/protocol"
	"github.com/danmuck/cryptolctl/internal/protocol/session"
	"github.com/danmuck/cryptolctl/internal/protocol/value"
)

// EnvServerURL names the environment variable consulted when no endpoint is
// given to Connect.
const EnvServerURL = "CRYPTOL_SERVER_URL"

// Option customizes a Client.
type Option func(*options)

type options struct {
	session []session.Option
}

// WithHooks observes every call, e.g. for metrics or tracing.
func WithHooks(hooks ...CallHook) Option {
	return func(o *options) {
		o.session = append(o.session, session.WithHooks(hooks...))
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.session = append(o.session, session.WithLogger(logger))
	}
}

// WithTransport replaces the HTTP transport.
func WithTransport(t session.Transport) Option {
	return func(o *options) {
		o.session = append(o.session, session.WithTransport(t))
	}
}

// ProverOptions tune Prove, Sat and Safe. The zero value asks z3 for a
// single result with hash consing enabled.
type ProverOptions struct {
	Prover             string
	DisableHashConsing bool
	// ResultCount bounds the satisfying assignments returned by Sat.
	// AllResults asks for every one.
	ResultCount int
}

// Client is one session with a cryptol-remote-api server.
type Client struct {
	sess *session.Session
}

// Connect opens a session and loads the Cryptol prelude. An empty endpoint
// falls back to cfg.Endpoint and then to $CRYPTOL_SERVER_URL.
func Connect(ctx context.Context, endpoint string, cfg Config, opts ...Option) (*Client, error) {
	cfg.Endpoint = resolveEndpoint(endpoint, cfg.Endpoint)
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	sess, err := session.Connect(ctx, cfg, o.session...)
	if err != nil {
		return nil, err
	}
	return &Client{sess: sess}, nil
}

func resolveEndpoint(candidates ...string) string {
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	return strings.TrimSpace(os.Getenv(EnvServerURL))
}

// Session exposes the underlying session for diagnostics.
func (c *Client) Session() *session.Session {
	return c.sess
}

// State returns the current server state handle.
func (c *Client) State() StateHandle {
	return c.sess.State()
}

func (c *Client) LoadModule(ctx context.Context, name string) error {
	_, err := c.sess.Send(ctx, protocol.LoadModuleParams{ModuleName: name})
	return err
}

func (c *Client) LoadFile(ctx context.Context, path string) error {
	_, err := c.sess.Send(ctx, protocol.LoadFileParams{File: path})
	return err
}

// Evaluate evaluates expr and decodes the answer against hint. Pass Any()
// to accept whatever the server's type describes.
func (c *Client) Evaluate(ctx context.Context, expr string, hint Shape) (Value, error) {
	tv, err := c.EvaluateTyped(ctx, expr, hint)
	return tv.Value, err
}

// EvaluateTyped is Evaluate that also returns the server-reported type.
func (c *Client) EvaluateTyped(ctx context.Context, expr string, hint Shape) (TypedValue, error) {
	if err := hint.Validate(); err != nil {
		return TypedValue{}, protocol.ValidationError(protocol.MethodEvaluate, err)
	}
	return c.sendValue(ctx, protocol.EvaluateParams{Expression: expr}, hint)
}

// Call applies fn to args. Opaque arguments are passed as Cryptol source.
func (c *Client) Call(ctx context.Context, fn string, args ...Value) (Value, error) {
	tv, err := c.CallTyped(ctx, fn, args...)
	return tv.Value, err
}

func (c *Client) CallTyped(ctx context.Context, fn string, args ...Value) (TypedValue, error) {
	params := protocol.CallParams{Function: fn}
	for _, arg := range args {
		raw, err := value.Encode(arg)
		if err != nil {
			return TypedValue{}, protocol.CodecError(protocol.MethodCall, 0, err)
		}
		params.Arguments = append(params.Arguments, raw)
	}
	return c.sendValue(ctx, params, value.Any())
}

func (c *Client) sendValue(ctx context.Context, params protocol.Params, hint Shape) (TypedValue, error) {
	req, res, err := c.send(ctx, params)
	if err != nil {
		return TypedValue{}, err
	}
	return protocol.DecodeValue(req, res, hint)
}

func (c *Client) send(ctx context.Context, params protocol.Params) (protocol.Request, protocol.Result, error) {
	return c.sess.Exchange(ctx, params)
}

func (c *Client) CheckType(ctx context.Context, expr string) (TypeDescription, error) {
	req, res, err := c.send(ctx, protocol.CheckTypeParams{Expression: expr})
	if err != nil {
		return TypeDescription{}, err
	}
	return protocol.DecodeTypeDescription(req, res)
}

// Prove asks whether expr holds for every input.
func (c *Client) Prove(ctx context.Context, expr string, opts ProverOptions) (Verdict, error) {
	return c.proveSat(ctx, protocol.QueryProve, expr, opts)
}

// Sat searches for inputs that make expr true.
func (c *Client) Sat(ctx context.Context, expr string, opts ProverOptions) (Verdict, error) {
	return c.proveSat(ctx, protocol.QuerySat, expr, opts)
}

// Safe checks that evaluating expr cannot raise a run-time error.
func (c *Client) Safe(ctx context.Context, expr string, opts ProverOptions) (Verdict, error) {
	return c.proveSat(ctx, protocol.QuerySafe, expr, opts)
}

func (c *Client) proveSat(ctx context.Context, query protocol.QueryType, expr string, opts ProverOptions) (Verdict, error) {
	params := protocol.ProveSatParams{
		QueryType:   query,
		Expression:  expr,
		Prover:      opts.Prover,
		HashConsing: "true",
		ResultCount: protocol.ResultCount(opts.ResultCount),
	}
	if params.Prover == "" {
		params.Prover = protocol.DefaultProver
	}
	if opts.DisableHashConsing {
		params.HashConsing = "false"
	}
	if opts.ResultCount == 0 {
		params.ResultCount = 1
	}
	req, res, err := c.send(ctx, params)
	if err != nil {
		return Verdict{}, err
	}
	return protocol.DecodeVerdict(req, res, query)
}

// FocusedModule reports the module in focus; Name is empty when none is.
func (c *Client) FocusedModule(ctx context.Context) (ModuleInfo, error) {
	req, res, err := c.send(ctx, protocol.FocusedModuleParams{})
	if err != nil {
		return ModuleInfo{}, err
	}
	return protocol.DecodeModuleInfo(req, res)
}

func (c *Client) VisibleNames(ctx context.Context) ([]NameInfo, error) {
	req, res, err := c.send(ctx, protocol.VisibleNamesParams{})
	if err != nil {
		return nil, err
	}
	return protocol.DecodeNames(req, res)
}

// Reset drops the current server state and starts over from the prelude.
func (c *Client) Reset(ctx context.Context) error {
	return c.sess.Reset(ctx)
}

// ResetServer drops every state the server holds, including those of other
// clients.
func (c *Client) ResetServer(ctx context.Context) error {
	return c.sess.ResetServer(ctx)
}

// Interrupt asks the server to abandon in-flight work. It may be called
// while another call on the same Client is blocked.
func (c *Client) Interrupt(ctx context.Context) error {
	return c.sess.Notify(ctx, protocol.InterruptParams{})
}

// Resync recovers after the server lost the session's state, replaying
// the modules and files loaded so far.
func (c *Client) Resync(ctx context.Context) error {
	return c.sess.Resync(ctx)
}

// Disconnect releases the connection. Later calls fail with
// ErrSessionClosed.
func (c *Client) Disconnect() error {
	return c.sess.Close()
}
