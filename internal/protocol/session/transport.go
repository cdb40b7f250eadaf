package session

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/pkg/errors"
	"golang.org/x/net/http2"

	"github.com/danmuck/cryptolctl/internal/auth"
	"github.com/danmuck/cryptolctl/internal/protocol"
)

const (
	maxResponseBytes = 64 << 20

	HeaderMaxOccupancy = "X-Max-Occupancy"
	HeaderSessionID    = "X-Client-Session"
)

// Transport delivers built requests to the server.
type Transport interface {
	RoundTrip(ctx context.Context, req protocol.Request) (*protocol.Response, error)
	Notify(ctx context.Context, req protocol.Request) error
	Close() error
}

// HTTPTransport posts JSON-RPC envelopes to a single endpoint.
type HTTPTransport struct {
	endpoint string
	client   *http.Client
	headers  http.Header
}

// NewHTTPTransport builds the HTTP client for cfg. https endpoints negotiate
// HTTP/2; CompressResponses enables gzip response decoding.
func NewHTTPTransport(cfg Config) (*HTTPTransport, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.ValidateClientTransport(); err != nil {
		return nil, err
	}
	u, err := ParseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	base := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
		MaxIdleConns:        8,
		IdleConnTimeout:     90 * time.Second,
		MaxConnsPerHost:     cfg.MaxOccupancy,
		DisableCompression:  cfg.CompressResponses,
	}
	if u.Scheme == "https" {
		tlsCfg, err := cfg.clientTLSConfig(u.Hostname())
		if err != nil {
			return nil, err
		}
		base.TLSClientConfig = tlsCfg
		if err := http2.ConfigureTransport(base); err != nil {
			return nil, errors.Wrap(err, "session: configure http2")
		}
	}

	var rt http.RoundTripper = base
	if cfg.CompressResponses {
		rt = gzhttp.Transport(base)
	}

	headers := make(http.Header)
	for k, v := range cfg.Headers {
		headers.Set(k, v)
	}
	if cfg.AuthToken != "" {
		headers.Set("Authorization", auth.BearerHeader(cfg.AuthToken))
	}

	return &HTTPTransport{
		endpoint: u.String(),
		client:   &http.Client{Transport: rt},
		headers:  headers,
	}, nil
}

func (t *HTTPTransport) Endpoint() string {
	return t.endpoint
}

func (t *HTTPTransport) RoundTrip(ctx context.Context, req protocol.Request) (*protocol.Response, error) {
	body, status, err := t.post(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp protocol.Response
	if jerr := json.Unmarshal(body, &resp); jerr != nil {
		if status/100 != 2 {
			return nil, protocol.TransportError(req.Method, req.ID, protocol.KindHTTPStatus, true,
				errors.Errorf("http status %d", status))
		}
		return nil, protocol.TransportError(req.Method, req.ID, protocol.KindMalformedResponse, true,
			errors.Wrap(jerr, "decode response"))
	}
	if status/100 != 2 && resp.Error == nil {
		return nil, protocol.TransportError(req.Method, req.ID, protocol.KindHTTPStatus, true,
			errors.Errorf("http status %d", status))
	}
	return &resp, nil
}

// Notify posts a notification. Any 2xx status is success and the body is
// discarded.
func (t *HTTPTransport) Notify(ctx context.Context, req protocol.Request) error {
	_, status, err := t.post(ctx, req)
	if err != nil {
		return err
	}
	if status/100 != 2 {
		return protocol.TransportError(req.Method, 0, protocol.KindHTTPStatus, true,
			errors.Errorf("http status %d", status))
	}
	return nil
}

func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

func (t *HTTPTransport) post(ctx context.Context, req protocol.Request) ([]byte, int, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, 0, protocol.ValidationError(req.Method, errors.Wrap(err, "encode request"))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, protocol.TransportError(req.Method, req.ID, protocol.KindConnection, false,
			errors.Wrap(err, "new request"))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Connection", "keep-alive")
	for k, vs := range t.headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	for k, v := range headersFrom(ctx) {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, 0, classifyHTTPError(ctx, req, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, 0, classifyHTTPError(ctx, req, err)
	}
	if len(body) > maxResponseBytes {
		return nil, 0, protocol.TransportError(req.Method, req.ID, protocol.KindMalformedResponse, true,
			errors.Errorf("response exceeds %d bytes", maxResponseBytes))
	}
	return body, resp.StatusCode, nil
}

// classifyHTTPError maps a client failure to a transport kind. Failures that
// happened before the request left the client (dial, TLS verification) are
// reported with a known outcome.
func classifyHTTPError(ctx context.Context, req protocol.Request, err error) error {
	unsent := neverSent(err)
	kind := protocol.KindConnection

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		kind = protocol.KindTimeout
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		kind = protocol.KindCanceled
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = protocol.KindTimeout
	}
	return protocol.TransportError(req.Method, req.ID, kind, !unsent,
		errors.Wrapf(err, "post %q", string(req.Method)))
}

func neverSent(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var certErr *tls.CertificateVerificationError
	return errors.As(err, &certErr)
}

type headersKey struct{}

// WithHeader returns a context that adds one HTTP header to requests sent
// with it. Hooks use it to propagate trace context.
func WithHeader(ctx context.Context, key, value string) context.Context {
	prev := headersFrom(ctx)
	next := make(map[string]string, len(prev)+1)
	for k, v := range prev {
		next[k] = v
	}
	next[key] = value
	return context.WithValue(ctx, headersKey{}, next)
}

func headersFrom(ctx context.Context) map[string]string {
	h, _ := ctx.Value(headersKey{}).(map[string]string)
	return h
}

func occupancyHeader(n int) string {
	return strconv.Itoa(n)
}
