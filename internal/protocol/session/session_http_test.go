package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/cryptolctl/internal/protocol"
	"github.com/danmuck/cryptolctl/internal/protocol/session"
	"github.com/danmuck/cryptolctl/internal/testutil/fakeserver"
	"github.com/danmuck/cryptolctl/internal/testutil/testlog"
	"github.com/danmuck/cryptolctl/internal/testutil/tlstest"
)

func connect(t *testing.T, cfg session.Config) *session.Session {
	t.Helper()
	s, err := session.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("connect %s: %v", cfg.Endpoint, err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConnectBootstrapsPrelude(t *testing.T) {
	testlog.Start(t)
	srv := fakeserver.New()
	s := connect(t, session.Config{Endpoint: srv.Start(t), MaxOccupancy: 4})

	if s.State().IsZero() {
		t.Fatalf("bootstrap left no state")
	}
	reqs := srv.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected one bootstrap request, got %d", len(reqs))
	}
	boot := reqs[0]
	if boot.Method != string(protocol.MethodLoadModule) || boot.State != "" {
		t.Fatalf("unexpected bootstrap request: %+v", boot)
	}
	if string(boot.Params["state"]) != "null" {
		t.Fatalf("bootstrap state should be null, got %s", boot.Params["state"])
	}
	if got := boot.Header.Get(session.HeaderMaxOccupancy); got != "4" {
		t.Fatalf("max occupancy header=%q", got)
	}
	if got := boot.Header.Get(session.HeaderSessionID); got != s.ID() {
		t.Fatalf("session header=%q want %q", got, s.ID())
	}
	mods, ok := srv.Modules(string(s.State()))
	if !ok || len(mods) != 1 || mods[0] != "Cryptol" {
		t.Fatalf("server modules=%v ok=%v", mods, ok)
	}
}

func TestStateThreadsAcrossCalls(t *testing.T) {
	testlog.Start(t)
	srv := fakeserver.New()
	s := connect(t, session.Config{Endpoint: srv.Start(t)})
	ctx := context.Background()

	afterBoot := s.State()
	loaded, err := s.Send(ctx, protocol.LoadModuleParams{ModuleName: "SuiteB"})
	if err != nil {
		t.Fatalf("load SuiteB: %v", err)
	}
	if _, err := s.Send(ctx, protocol.EvaluateParams{Expression: fakeserver.ExprSHA384Zero}); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	reqs := srv.Requests()
	if reqs[1].State != string(afterBoot) {
		t.Fatalf("load carried %q, want %q", reqs[1].State, afterBoot)
	}
	if reqs[2].State != string(loaded.State) {
		t.Fatalf("evaluate carried %q, want %q", reqs[2].State, loaded.State)
	}
}

func TestEvaluateWithoutModuleIsUnknownIdentifier(t *testing.T) {
	testlog.Start(t)
	srv := fakeserver.New()
	s := connect(t, session.Config{Endpoint: srv.Start(t)})

	before := s.State()
	_, err := s.Send(context.Background(), protocol.EvaluateParams{Expression: fakeserver.ExprSHA384Zero})
	if !errors.Is(err, protocol.ErrUnknownIdentifier) {
		t.Fatalf("expected unknown identifier, got %v", err)
	}
	if s.State() != before {
		t.Fatalf("state replaced by failed call")
	}
}

func TestLoadMissingModuleFails(t *testing.T) {
	testlog.Start(t)
	srv := fakeserver.New()
	s := connect(t, session.Config{Endpoint: srv.Start(t)})

	_, err := s.Send(context.Background(), protocol.LoadModuleParams{ModuleName: "nosuchmodule"})
	if !errors.Is(err, protocol.ErrApplication) {
		t.Fatalf("expected application error, got %v", err)
	}
	var perr *protocol.Error
	if !errors.As(err, &perr) || perr.Code != fakeserver.CodeModuleNotFound {
		t.Fatalf("unexpected error detail: %+v", perr)
	}
	if len(s.History()) != 1 {
		t.Fatalf("failed load entered history: %+v", s.History())
	}
}

func TestDroppedConnectionLeavesOutcomeUnknown(t *testing.T) {
	testlog.Start(t)
	srv := fakeserver.New()
	s := connect(t, session.Config{Endpoint: srv.Start(t)})

	before := s.State()
	srv.DropNext(1)
	_, err := s.Send(context.Background(), protocol.EvaluateParams{Expression: fakeserver.ExprOnePlusOne})
	if !errors.Is(err, protocol.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if !protocol.IsOutcomeUnknown(err) {
		t.Fatalf("dropped connection should leave the outcome unknown: %v", err)
	}
	if s.State() != before {
		t.Fatalf("state replaced after dropped connection")
	}
	if n := len(srv.Requests()); n != 2 {
		t.Fatalf("request was retried; server saw %d requests", n)
	}
}

func TestMismatchedResponseIDIsRejected(t *testing.T) {
	testlog.Start(t)
	srv := fakeserver.New()
	s := connect(t, session.Config{Endpoint: srv.Start(t)})

	before := s.State()
	srv.MismatchNext(1)
	_, err := s.Send(context.Background(), protocol.EvaluateParams{Expression: fakeserver.ExprOnePlusOne})
	if !errors.Is(err, protocol.ErrCorrelation) {
		t.Fatalf("expected correlation mismatch, got %v", err)
	}
	if s.State() != before {
		t.Fatalf("state adopted from mismatched response")
	}
}

func TestBootstrapRetriesRefusedConnections(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	cfg := session.Config{
		Endpoint:           "http://" + addr + "/",
		MaxConnectAttempts: 3,
		Backoff:            session.BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond},
	}
	start := time.Now()
	_, err = session.Connect(context.Background(), cfg)
	if !errors.Is(err, protocol.ErrConnection) {
		t.Fatalf("expected connection error, got %v", err)
	}
	if protocol.IsOutcomeUnknown(err) {
		t.Fatalf("refused dial should have a known outcome: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("bootstrap retries took too long")
	}
}

func TestBootstrapDoesNotRetryDeliveredRequests(t *testing.T) {
	testlog.Start(t)
	srv := fakeserver.New()
	url := srv.Start(t)
	srv.DropNext(1)

	cfg := session.Config{
		Endpoint: url,
		Backoff:  session.BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond},
	}
	_, err := session.Connect(context.Background(), cfg)
	if !protocol.IsOutcomeUnknown(err) {
		t.Fatalf("expected outcome-unknown transport error, got %v", err)
	}
	if n := len(srv.Requests()); n != 1 {
		t.Fatalf("delivered bootstrap was retried: %d requests", n)
	}
}

func TestResyncReplaysHistoryAfterServerRestart(t *testing.T) {
	testlog.Start(t)
	srv := fakeserver.New()
	s := connect(t, session.Config{Endpoint: srv.Start(t)})
	ctx := context.Background()
	if _, err := s.Send(ctx, protocol.LoadModuleParams{ModuleName: "SuiteB"}); err != nil {
		t.Fatalf("load: %v", err)
	}

	srv.ForgetStates()
	_, err := s.Send(ctx, protocol.EvaluateParams{Expression: fakeserver.ExprOnePlusOne})
	if !errors.Is(err, protocol.ErrApplication) {
		t.Fatalf("expected unknown state error, got %v", err)
	}

	if err := s.Resync(ctx); err != nil {
		t.Fatalf("resync: %v", err)
	}
	mods, ok := srv.Modules(string(s.State()))
	if !ok || strings.Join(mods, ",") != "Cryptol,SuiteB" {
		t.Fatalf("replayed modules=%v ok=%v", mods, ok)
	}
	if _, err := s.Send(ctx, protocol.EvaluateParams{Expression: fakeserver.ExprSHA384Zero}); err != nil {
		t.Fatalf("evaluate after resync: %v", err)
	}
}

func TestResyncKeepsLiveState(t *testing.T) {
	testlog.Start(t)
	srv := fakeserver.New()
	s := connect(t, session.Config{Endpoint: srv.Start(t)})

	if err := s.Resync(context.Background()); err != nil {
		t.Fatalf("resync: %v", err)
	}
	for _, r := range srv.Requests()[1:] {
		if r.Method == string(protocol.MethodLoadModule) {
			t.Fatalf("live state should not be replayed")
		}
	}
}

func TestNotificationsReachServer(t *testing.T) {
	testlog.Start(t)
	srv := fakeserver.New()
	s := connect(t, session.Config{Endpoint: srv.Start(t)})
	ctx := context.Background()

	if err := s.Notify(ctx, protocol.InterruptParams{}); err != nil {
		t.Fatalf("interrupt: %v", err)
	}
	if srv.Interrupts() != 1 {
		t.Fatalf("interrupts=%d", srv.Interrupts())
	}

	if err := s.ResetServer(ctx); err != nil {
		t.Fatalf("reset server: %v", err)
	}
	if srv.StateCount() != 1 {
		t.Fatalf("expected only the fresh bootstrap state, got %d", srv.StateCount())
	}
	for _, r := range srv.Requests() {
		if r.Method == string(protocol.MethodInterrupt) {
			if _, ok := r.Params["state"]; ok {
				t.Fatalf("interrupt carried state")
			}
			if len(r.ID) != 0 {
				t.Fatalf("interrupt carried id %s", r.ID)
			}
		}
	}
}

func TestTLSEndpoint(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "cryptol-test-ca")
	certFile, keyFile := ca.IssueLocalhostCert(t, dir)

	srv := fakeserver.New()
	url := srv.StartTLS(t, ca.ServerConfig(t, certFile, keyFile, false))

	s := connect(t, session.Config{
		Endpoint:     url,
		SecurityMode: session.SecurityModeProduction,
		TLS:          session.TLSConfig{CAFile: ca.CAFile(), ServerName: "localhost"},
	})
	if _, err := s.Send(context.Background(), protocol.EvaluateParams{Expression: fakeserver.ExprOnePlusOne}); err != nil {
		t.Fatalf("evaluate over tls: %v", err)
	}
}

func TestMutualTLSEndpoint(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "cryptol-test-ca")
	certFile, keyFile := ca.IssueLocalhostCert(t, dir)
	clientCert, clientKey := ca.IssueClientCert(t, dir, "cryptolctl")

	srv := fakeserver.New()
	url := srv.StartTLS(t, ca.ServerConfig(t, certFile, keyFile, true))

	s := connect(t, session.Config{
		Endpoint: url,
		TLS: session.TLSConfig{
			CAFile:     ca.CAFile(),
			ServerName: "localhost",
			Mutual:     true,
			CertFile:   clientCert,
			KeyFile:    clientKey,
		},
	})
	if s.State().IsZero() {
		t.Fatalf("no state after mutual tls bootstrap")
	}
}

func TestUntrustedCertificateHasKnownOutcome(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "cryptol-test-ca")
	certFile, keyFile := ca.IssueLocalhostCert(t, dir)

	srv := fakeserver.New()
	url := srv.StartTLS(t, ca.ServerConfig(t, certFile, keyFile, false))

	_, err := session.Connect(context.Background(), session.Config{
		Endpoint:           url,
		MaxConnectAttempts: 1,
		TLS:                session.TLSConfig{ServerName: "localhost"},
	})
	if !errors.Is(err, protocol.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if protocol.IsOutcomeUnknown(err) {
		t.Fatalf("certificate rejection happens before the request is sent: %v", err)
	}
	if n := len(srv.Requests()); n != 0 {
		t.Fatalf("server saw %d requests", n)
	}
}

func TestHeadersAndCompression(t *testing.T) {
	testlog.Start(t)
	srv := fakeserver.New()
	s := connect(t, session.Config{
		Endpoint:          srv.Start(t),
		CompressResponses: true,
		AuthToken:         "secret",
		Headers:           map[string]string{"X-Team": "crypto"},
	})
	_ = s

	h := srv.Requests()[0].Header
	if got := h.Get("Authorization"); got != "Bearer secret" {
		t.Fatalf("authorization=%q", got)
	}
	if got := h.Get("X-Team"); got != "crypto" {
		t.Fatalf("custom header=%q", got)
	}
	if got := h.Get("Accept-Encoding"); !strings.Contains(got, "gzip") {
		t.Fatalf("accept-encoding=%q", got)
	}
	if got := h.Get("Content-Type"); got != "application/json" {
		t.Fatalf("content-type=%q", got)
	}
}

// slowEvaluator answers loads at once and holds "evaluate expression" until
// the client gives up.
func slowEvaluator(t *testing.T) string {
	t.Helper()
	var n atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Method == string(protocol.MethodEvaluate) {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(5 * time.Second):
			}
		}
		state := "s" + strconv.FormatInt(n.Add(1), 10)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": protocol.JSONRPCVersion,
			"id":      req.ID,
			"result":  map[string]any{"answer": []any{}, "state": state, "stdout": "", "stderr": ""},
		})
	}))
	t.Cleanup(ts.Close)
	return ts.URL + "/"
}

func TestCallerDeadlineIsTimeoutAndKeepsState(t *testing.T) {
	testlog.Start(t)
	s := connect(t, session.Config{Endpoint: slowEvaluator(t)})
	before := s.State()
	if before.IsZero() {
		t.Fatalf("expected a state after connect")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := s.Send(ctx, protocol.EvaluateParams{Expression: "1 + 1"})
	if !errors.Is(err, protocol.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if !protocol.IsOutcomeUnknown(err) {
		t.Fatalf("timed out request should have an unknown outcome: %v", err)
	}
	if s.State() != before {
		t.Fatalf("state changed on timeout: %q -> %q", before, s.State())
	}
	if n := len(s.Pending()); n != 0 {
		t.Fatalf("timed out request still pending: %d", n)
	}
}

func TestRequestTimeoutAppliesWithoutDeadline(t *testing.T) {
	testlog.Start(t)
	s := connect(t, session.Config{Endpoint: slowEvaluator(t), RequestTimeout: 100 * time.Millisecond})
	before := s.State()

	start := time.Now()
	_, err := s.Send(context.Background(), protocol.EvaluateParams{Expression: "1 + 1"})
	if !errors.Is(err, protocol.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("request timeout not applied, took %v", elapsed)
	}
	if s.State() != before {
		t.Fatalf("state changed on timeout: %q -> %q", before, s.State())
	}

	if _, err := s.Send(context.Background(), protocol.LoadModuleParams{ModuleName: "SuiteB"}); err != nil {
		t.Fatalf("session unusable after timeout: %v", err)
	}
}
