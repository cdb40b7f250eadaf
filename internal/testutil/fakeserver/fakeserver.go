// Package fakeserver is an in-process stand-in for cryptol-remote-api.
//
// It speaks the same JSON-RPC over HTTP, issues a fresh state handle on every
// successful call, remembers which modules each state has loaded, and answers
// a small table of canned expressions. Everything it receives is recorded so
// tests can assert on sequencing and state threading.
package fakeserver

import (
	"crypto/sha512"
	"crypto/tls"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/cryptolctl/internal/auth"
	"github.com/danmuck/cryptolctl/internal/observability"
	"github.com/danmuck/cryptolctl/internal/protocol"
	"github.com/danmuck/cryptolctl/internal/protocol/value"
)

// Error codes the fake returns, matching cryptol-remote-api.
const (
	CodeInvalidParams     = -32602
	CodeMethodNotFound    = -32601
	CodeUnknownState      = 20
	CodeModuleNotFound    = 20500
	CodeUnknownIdentifier = 20700
	CodeTypeCheck         = 20730
)

// Reply is a canned answer. Exactly one of Answer or Error is used.
// Requires names a module that must be loaded in the calling state.
type Reply struct {
	Answer   json.RawMessage
	Error    *protocol.ResponseError
	Requires string
	Stdout   string
}

// CallFunc answers a "call" request.
type CallFunc func(args []json.RawMessage) Reply

// Recorded is one request as received.
type Recorded struct {
	ID     json.RawMessage
	Method string
	State  string
	Params map[string]json.RawMessage
	Header http.Header
}

type Server struct {
	mu         sync.Mutex
	states     map[string][]string
	modules    map[string]bool
	evals      map[string]Reply
	calls      map[string]CallFunc
	types      map[string]Reply
	proofs     map[string]Reply
	names      map[string][]json.RawMessage
	requests   []Recorded
	drop       int
	badID      int
	interrupts int
	validator  auth.Validator
	engine     *gin.Engine
}

func New() *Server {
	gin.SetMode(gin.TestMode)
	s := &Server{
		states:  make(map[string][]string),
		modules: map[string]bool{"Cryptol": true, "SuiteB": true, "Float": true},
		evals:   make(map[string]Reply),
		calls:   make(map[string]CallFunc),
		types:   make(map[string]Reply),
		proofs:  make(map[string]Reply),
		names:   make(map[string][]json.RawMessage),
	}
	s.installDefaults()

	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		observability.RPCEnvelope(),
		observability.RequestLogger(observability.Component("fakeserver")),
		observability.RequestMetricsMiddleware("fakeserver"),
		s.authorize,
	)
	engine.POST("/", s.handle)
	s.engine = engine
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves over plain HTTP until the test ends and returns the base URL.
func (s *Server) Start(t testing.TB) string {
	t.Helper()
	ts := httptest.NewServer(s.engine)
	t.Cleanup(ts.Close)
	return ts.URL + "/"
}

// StartTLS serves over HTTPS with the given listener config.
func (s *Server) StartTLS(t testing.TB, cfg *tls.Config) string {
	t.Helper()
	ts := httptest.NewUnstartedServer(s.engine)
	ts.TLS = cfg
	ts.EnableHTTP2 = true
	ts.StartTLS()
	t.Cleanup(ts.Close)
	return ts.URL + "/"
}

// RequireToken rejects requests whose bearer token v does not accept with
// 401 and an empty body.
func (s *Server) RequireToken(v auth.Validator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validator = v
}

func (s *Server) authorize(c *gin.Context) {
	s.mu.Lock()
	v := s.validator
	s.mu.Unlock()
	if v == nil {
		c.Next()
		return
	}
	token, _ := auth.ParseBearer(c.GetHeader("Authorization"))
	if err := v.Validate(token); err != nil {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	c.Next()
}

func (s *Server) AddModule(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules[name] = true
}

func (s *Server) SetEval(expr string, r Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evals[expr] = r
}

func (s *Server) SetCall(fn string, f CallFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[fn] = f
}

func (s *Server) SetCheckType(expr string, r Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types[expr] = r
}

func (s *Server) SetProof(expr string, r Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proofs[expr] = r
}

// DropNext makes the next n requests fail by closing the connection after
// the request has been read.
func (s *Server) DropNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drop = n
}

// MismatchNext makes the next n responses echo a wrong id.
func (s *Server) MismatchNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.badID = n
}

// ForgetStates drops every state, as a restarted server would.
func (s *Server) ForgetStates() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = make(map[string][]string)
}

func (s *Server) StateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

func (s *Server) Interrupts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interrupts
}

func (s *Server) Requests() []Recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Recorded(nil), s.requests...)
}

// Modules returns the modules loaded in state.
func (s *Server) Modules(state string) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mods, ok := s.states[state]
	return append([]string(nil), mods...), ok
}

type wireRequest struct {
	JSONRPC string                     `json:"jsonrpc"`
	ID      json.RawMessage            `json:"id"`
	Method  string                     `json:"method"`
	Params  map[string]json.RawMessage `json:"params"`
}

type wireResult struct {
	Answer json.RawMessage `json:"answer"`
	State  string          `json:"state"`
	Stdout string          `json:"stdout"`
	Stderr string          `json:"stderr"`
}

func (s *Server) handle(c *gin.Context) {
	var req wireRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, gin.H{
			"jsonrpc": protocol.JSONRPCVersion,
			"id":      nil,
			"error":   protocol.ResponseError{Code: protocol.CodeJSONParse, Message: err.Error()},
		})
		return
	}

	s.mu.Lock()
	state := stringParam(req.Params, "state")
	s.requests = append(s.requests, Recorded{
		ID:     req.ID,
		Method: req.Method,
		State:  state,
		Params: req.Params,
		Header: c.Request.Header.Clone(),
	})
	drop := s.drop > 0
	if drop {
		s.drop--
	}
	mismatch := s.badID > 0
	if mismatch {
		s.badID--
	}
	s.mu.Unlock()

	if drop {
		if hj, ok := c.Writer.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				_ = conn.Close()
				c.Abort()
				return
			}
		}
		c.AbortWithStatus(http.StatusBadGateway)
		return
	}

	if len(req.ID) == 0 || string(req.ID) == "null" {
		s.notify(req)
		c.Status(http.StatusOK)
		return
	}

	id := req.ID
	if mismatch {
		id = json.RawMessage(`999999`)
	}
	result, rerr := s.dispatch(req, state)
	if rerr != nil {
		c.JSON(http.StatusOK, gin.H{"jsonrpc": protocol.JSONRPCVersion, "id": id, "error": rerr})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jsonrpc": protocol.JSONRPCVersion, "id": id, "result": result})
}

func (s *Server) notify(req wireRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch protocol.Method(req.Method) {
	case protocol.MethodClearState:
		delete(s.states, stringParam(req.Params, "state to clear"))
	case protocol.MethodClearAllStates:
		s.states = make(map[string][]string)
	case protocol.MethodInterrupt:
		s.interrupts++
	default:
		log.Warn().Str("method", req.Method).Msg("fakeserver: unknown notification")
	}
}

func (s *Server) dispatch(req wireRequest, state string) (*wireResult, *protocol.ResponseError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var mods []string
	if state != "" {
		known, ok := s.states[state]
		if !ok {
			return nil, &protocol.ResponseError{Code: CodeUnknownState, Message: "Unknown state ID: " + state}
		}
		mods = known
	}

	var (
		reply   Reply
		newMods = mods
	)
	switch protocol.Method(req.Method) {
	case protocol.MethodLoadModule:
		name := stringParam(req.Params, "module name")
		if !s.modules[name] {
			return nil, &protocol.ResponseError{Code: CodeModuleNotFound, Message: "Could not find module " + name}
		}
		newMods = appendModule(mods, name)
		reply = Reply{Answer: json.RawMessage(`[]`)}
	case protocol.MethodLoadFile:
		path := stringParam(req.Params, "file")
		if _, err := os.Stat(path); err != nil {
			return nil, &protocol.ResponseError{Code: CodeModuleNotFound, Message: "Could not find file " + path}
		}
		newMods = appendModule(mods, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
		reply = Reply{Answer: json.RawMessage(`[]`)}
	case protocol.MethodEvaluate:
		reply = lookup(s.evals, stringParam(req.Params, "expression"))
	case protocol.MethodCall:
		fn := stringParam(req.Params, "function")
		f, ok := s.calls[fn]
		if !ok {
			reply = notInScope(fn)
			break
		}
		var args []json.RawMessage
		if err := json.Unmarshal(req.Params["arguments"], &args); err != nil {
			return nil, &protocol.ResponseError{Code: CodeInvalidParams, Message: "arguments: " + err.Error()}
		}
		reply = f(args)
	case protocol.MethodCheckType:
		reply = lookup(s.types, stringParam(req.Params, "expression"))
	case protocol.MethodProveSat:
		switch stringParam(req.Params, "query type") {
		case "sat", "prove", "safe":
		default:
			return nil, &protocol.ResponseError{Code: CodeInvalidParams, Message: "invalid query type"}
		}
		reply = lookup(s.proofs, stringParam(req.Params, "expression"))
	case protocol.MethodFocusedModule:
		if len(mods) == 0 {
			reply = Reply{Answer: json.RawMessage(`null`)}
			break
		}
		answer, _ := json.Marshal(map[string]any{"module": mods[len(mods)-1], "parameterized": false})
		reply = Reply{Answer: answer}
	case protocol.MethodVisibleNames:
		var names []json.RawMessage
		for _, m := range mods {
			names = append(names, s.names[m]...)
		}
		if names == nil {
			names = []json.RawMessage{}
		}
		answer, _ := json.Marshal(names)
		reply = Reply{Answer: answer}
	default:
		return nil, &protocol.ResponseError{Code: CodeMethodNotFound, Message: "Method not found: " + req.Method}
	}

	if reply.Requires != "" && !contains(mods, reply.Requires) {
		return nil, &protocol.ResponseError{Code: CodeUnknownIdentifier, Message: "Value not in scope"}
	}
	if reply.Error != nil {
		return nil, reply.Error
	}

	next := uuid.NewString()
	s.states[next] = newMods
	return &wireResult{Answer: reply.Answer, State: next, Stdout: reply.Stdout}, nil
}

func lookup(table map[string]Reply, key string) Reply {
	if r, ok := table[key]; ok {
		return r
	}
	return notInScope(key)
}

func notInScope(name string) Reply {
	return Reply{Error: &protocol.ResponseError{Code: CodeUnknownIdentifier, Message: "Value not in scope: " + name}}
}

func stringParam(params map[string]json.RawMessage, key string) string {
	var s string
	if raw, ok := params[key]; ok {
		_ = json.Unmarshal(raw, &s)
	}
	return s
}

func appendModule(mods []string, name string) []string {
	out := make([]string, 0, len(mods)+1)
	for _, m := range mods {
		if m != name {
			out = append(out, m)
		}
	}
	return append(out, name)
}

func contains(mods []string, name string) bool {
	for _, m := range mods {
		if m == name {
			return true
		}
	}
	return false
}

// ValueAnswer builds an evaluate/call answer from a value and its type JSON.
func ValueAnswer(v value.Value, typeJSON, typeString string) json.RawMessage {
	raw, err := value.Encode(v)
	if err != nil {
		panic(err)
	}
	schema := json.RawMessage(`{"forall":[],"propositions":[],"type":` + typeJSON + `}`)
	answer, _ := json.Marshal(map[string]any{"value": raw, "type": schema, "type string": typeString})
	return answer
}

func bitsType(width int) string {
	w, _ := json.Marshal(width)
	return `{"type":"bitvector","width":{"type":"number","value":` + string(w) + `}}`
}

// SHA384 returns the digest of msg as a 384-bit vector.
func SHA384(msg []byte) value.Value {
	sum := sha512.Sum384(msg)
	v, err := value.Bits(384, new(big.Int).SetBytes(sum[:]))
	if err != nil {
		panic(err)
	}
	return v
}
