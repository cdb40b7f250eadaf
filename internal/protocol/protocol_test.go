package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/danmuck/cryptolctl/internal/protocol/value"
	"github.com/danmuck/cryptolctl/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func TestBuilderAssignsIncreasingIDs(t *testing.T) {
	testlog.Start(t)
	b := NewBuilder()

	first, err := b.Build(LoadModuleParams{ModuleName: "Cryptol"}, "")
	if err != nil {
		t.Fatalf("build first: %v", err)
	}
	second, err := b.Build(EvaluateParams{Expression: "1 + 1"}, "s1")
	if err != nil {
		t.Fatalf("build second: %v", err)
	}
	if first.ID != 1 || second.ID != 2 {
		t.Fatalf("expected ids 1,2 got %d,%d", first.ID, second.ID)
	}

	raw, err := json.Marshal(first)
	require.NoError(t, err)
	require.JSONEq(t, `{"jsonrpc":"2.0","id":1,"method":"load module","params":{"module name":"Cryptol","state":null}}`, string(raw))

	raw, err = json.Marshal(second)
	require.NoError(t, err)
	require.JSONEq(t, `{"jsonrpc":"2.0","id":2,"method":"evaluate expression","params":{"expression":"1 + 1","state":"s1"}}`, string(raw))
}

func TestBuilderValidationDoesNotConsumeID(t *testing.T) {
	testlog.Start(t)
	b := NewBuilder()

	tests := []Params{
		EvaluateParams{Expression: "   "},
		LoadModuleParams{},
		LoadFileParams{},
		CallParams{},
		CheckTypeParams{},
		ProveSatParams{QueryType: "maybe", Expression: "True", Prover: "z3", HashConsing: "true", ResultCount: 1},
		ProveSatParams{QueryType: QuerySat, Expression: "True", Prover: "z3", HashConsing: "yes", ResultCount: 1},
		ClearStateParams{},
	}
	for _, p := range tests {
		_, err := b.Build(p, "")
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", p.Method(), err)
		}
	}
	if b.Last() != 0 {
		t.Fatalf("expected no ids consumed, got last=%d", b.Last())
	}
}

func TestBuilderNotificationAndStateless(t *testing.T) {
	testlog.Start(t)
	b := NewBuilder()

	req, err := b.Notification(ClearStateParams{StateToClear: "s9"}, "s9")
	require.NoError(t, err)
	raw, err := json.Marshal(req)
	require.NoError(t, err)
	require.JSONEq(t, `{"jsonrpc":"2.0","method":"clear state","params":{"state to clear":"s9"}}`, string(raw))
	require.Equal(t, uint64(0), b.Last())
}

func TestBuilderCallAndProveParams(t *testing.T) {
	testlog.Start(t)
	b := NewBuilder()

	arg, err := value.Encode(value.MustBits(16, 1))
	require.NoError(t, err)
	req, err := b.Build(CallParams{Function: "sha384", Arguments: []json.RawMessage{arg}}, "s1")
	require.NoError(t, err)
	require.JSONEq(t, `{"function":"sha384","arguments":[{"expression":"bits","encoding":"hex","width":16,"data":"0001"}],"state":"s1"}`, string(req.Params))

	req, err = b.Build(ProveSatParams{QueryType: QuerySat, Expression: "\\x -> x == 3", Prover: "z3", HashConsing: "true", ResultCount: AllResults}, "s1")
	require.NoError(t, err)
	require.JSONEq(t, `{"query type":"sat","expression":"\\x -> x == 3","prover":"z3","hash consing":"true","result count":"all","state":"s1"}`, string(req.Params))

	req, err = b.Build(CallParams{Function: "f"}, "s1")
	require.NoError(t, err)
	require.JSONEq(t, `{"function":"f","arguments":[],"state":"s1"}`, string(req.Params))
}

func response(t *testing.T, raw string) *Response {
	t.Helper()
	var resp Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return &resp
}

func TestInterpretSuccess(t *testing.T) {
	testlog.Start(t)
	req := Request{ID: 4, Method: MethodEvaluate}
	res, err := Interpret(req, response(t, `{"jsonrpc":"2.0","id":4,"result":{"answer":{"value":true},"state":"s2","stdout":"hi","stderr":""}}`))
	require.NoError(t, err)
	require.Equal(t, StateHandle("s2"), res.State)
	require.Equal(t, "hi", res.Stdout)
	require.JSONEq(t, `{"value":true}`, string(res.Answer))
}

func TestInterpretRejectsBadEnvelopes(t *testing.T) {
	testlog.Start(t)
	req := Request{ID: 4, Method: MethodEvaluate}
	tests := []struct {
		name string
		raw  string
		want *Error
	}{
		{name: "wrong id", raw: `{"jsonrpc":"2.0","id":5,"result":{"answer":null,"state":"s"}}`, want: ErrCorrelation},
		{name: "wrong version", raw: `{"jsonrpc":"1.0","id":4,"result":{"answer":null,"state":"s"}}`, want: ErrMalformedResponse},
		{name: "no outcome", raw: `{"jsonrpc":"2.0","id":4}`, want: ErrMalformedResponse},
		{name: "both outcomes", raw: `{"jsonrpc":"2.0","id":4,"result":{"state":"s"},"error":{"code":1,"message":"x"}}`, want: ErrMalformedResponse},
		{name: "missing state", raw: `{"jsonrpc":"2.0","id":4,"result":{"answer":1}}`, want: ErrMalformedResponse},
		{name: "null state", raw: `{"jsonrpc":"2.0","id":4,"result":{"answer":1,"state":null}}`, want: ErrMalformedResponse},
		{name: "missing id", raw: `{"jsonrpc":"2.0","result":{"answer":1,"state":"s"}}`, want: ErrMalformedResponse},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Interpret(req, response(t, tc.raw))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if _, err := Interpret(req, nil); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected malformed for nil response, got %v", err)
	}
}

func TestInterpretStringID(t *testing.T) {
	testlog.Start(t)
	req := Request{ID: 12, Method: MethodFocusedModule}
	_, err := Interpret(req, response(t, `{"jsonrpc":"2.0","id":"12","result":{"answer":null,"state":"s"}}`))
	require.NoError(t, err)
}

func TestInterpretApplicationErrors(t *testing.T) {
	testlog.Start(t)
	req := Request{ID: 1, Method: MethodEvaluate}
	tests := []struct {
		code    int
		message string
		want    Kind
	}{
		{code: -32700, message: "Parse error", want: KindParse},
		{code: 20000, message: "Cryptol parse error", want: KindParse},
		{code: 20540, message: "Module parse error", want: KindParse},
		{code: 20700, message: "Unknown identifier", want: KindUnknownIdentifier},
		{code: 20600, message: "Value not in scope: foo", want: KindUnknownIdentifier},
		{code: 20730, message: "Type checking failed", want: KindType},
		{code: 20040, message: "Type errors", want: KindType},
		{code: 20220, message: "Evaluation failed", want: KindEvaluation},
		{code: 20499, message: "Evaluation error", want: KindEvaluation},
		{code: 20500, message: "Module not found", want: KindOther},
		{code: -32601, message: "Method not found", want: KindOther},
	}
	for _, tc := range tests {
		raw := `{"jsonrpc":"2.0","id":1,"error":{"code":` + itoa(tc.code) + `,"message":` + quote(tc.message) + `,"data":{"stdout":"out","stderr":"err","data":{"path":"x"}}}}`
		_, err := Interpret(req, response(t, raw))
		var perr *Error
		if !errors.As(err, &perr) {
			t.Fatalf("code %d: expected *Error, got %v", tc.code, err)
		}
		if perr.Category != CategoryApplication || perr.Kind != tc.want {
			t.Fatalf("code %d: expected application/%s, got %s/%s", tc.code, tc.want, perr.Category, perr.Kind)
		}
		require.Equal(t, tc.message, perr.Message)
		require.Equal(t, tc.code, perr.Code)
		require.Equal(t, "out", perr.Stdout)
		require.Equal(t, "err", perr.Stderr)
	}
}

func itoa(n int) string {
	raw, _ := json.Marshal(n)
	return string(raw)
}

func quote(s string) string {
	raw, _ := json.Marshal(s)
	return string(raw)
}

func TestErrorIsMatchesCategoryAndKind(t *testing.T) {
	testlog.Start(t)
	err := TransportError(MethodCall, 3, KindTimeout, true, errors.New("deadline"))

	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected transport category match")
	}
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout kind match")
	}
	if errors.Is(err, ErrSessionClosed) {
		t.Fatalf("unexpected session-closed match")
	}
	if errors.Is(err, ErrApplication) {
		t.Fatalf("unexpected application match")
	}
	if !IsOutcomeUnknown(err) {
		t.Fatalf("expected outcome unknown")
	}
}

func TestDecodeValueUsesServerType(t *testing.T) {
	testlog.Start(t)
	req := Request{ID: 1, Method: MethodEvaluate}
	res := Result{Answer: json.RawMessage(`{
		"value":{"expression":"tuple","data":[
			{"expression":"bits","encoding":"hex","width":8,"data":"01"},
			{"expression":"bits","encoding":"hex","width":8,"data":"02"},
			{"expression":"bits","encoding":"hex","width":8,"data":"03"}]},
		"type":{"forall":[],"propositions":[],"type":{"type":"tuple","contents":[
			{"type":"bitvector","width":{"type":"number","value":8}},
			{"type":"bitvector","width":{"type":"number","value":8}},
			{"type":"bitvector","width":{"type":"number","value":8}}]}},
		"type string":"([8], [8], [8])"}`)}

	tv, err := DecodeValue(req, res, value.Any())
	require.NoError(t, err)
	require.Equal(t, "([8], [8], [8])", tv.TypeString)
	require.Len(t, tv.Value.Elems, 3)

	_, err = DecodeValue(req, res, value.TupleShape(value.BitsShape(8), value.BitsShape(8)))
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected codec shape mismatch, got %v", err)
	}
	if !errors.Is(err, value.ErrShapeMismatch) {
		t.Fatalf("expected wrapped value.ErrShapeMismatch, got %v", err)
	}
}

func TestDecodeValueOverflow(t *testing.T) {
	testlog.Start(t)
	req := Request{ID: 1, Method: MethodEvaluate}
	res := Result{Answer: json.RawMessage(`{"value":{"expression":"bits","encoding":"hex","width":4,"data":"ff"}}`)}
	_, err := DecodeValue(req, res, value.Any())
	if !errors.Is(err, ErrWidthOverflow) {
		t.Fatalf("expected codec width overflow, got %v", err)
	}
}

func TestDecodeVerdict(t *testing.T) {
	testlog.Start(t)
	req := Request{ID: 1, Method: MethodProveSat}

	v, err := DecodeVerdict(req, Result{Answer: json.RawMessage(`{"result":"unsatisfiable"}`)}, QueryProve)
	require.NoError(t, err)
	require.Equal(t, OutcomeProved, v.Outcome)

	v, err = DecodeVerdict(req, Result{Answer: json.RawMessage(`{"result":"unsatisfiable"}`)}, QuerySat)
	require.NoError(t, err)
	require.Equal(t, OutcomeUnsatisfiable, v.Outcome)

	v, err = DecodeVerdict(req, Result{Answer: json.RawMessage(`{"result":"invalid","counterexample type":"predicate falsified",
		"counterexample":[{"type":{"type":"bitvector","width":{"type":"number","value":8}},"expr":{"expression":"bits","encoding":"hex","width":8,"data":"ff"}}]}`)}, QueryProve)
	require.NoError(t, err)
	require.Equal(t, OutcomeCounterexample, v.Outcome)
	require.Equal(t, "predicate falsified", v.CounterexampleType)
	require.True(t, v.Value.Equal(value.Tuple(value.MustBits(8, 0xff))))

	v, err = DecodeVerdict(req, Result{Answer: json.RawMessage(`{"result":"satisfied","models":[
		[{"type":{"type":"Bit"},"expr":true}],
		[{"type":{"type":"Bit"},"expr":false}]]}`)}, QuerySat)
	require.NoError(t, err)
	require.Equal(t, OutcomeSatisfiable, v.Outcome)
	require.Len(t, v.Models, 2)
	require.True(t, v.Value.Equal(value.Tuple(value.Bit(true))))

	v, err = DecodeVerdict(req, Result{Answer: json.RawMessage(`{"result":"offline","query":"(check-sat)"}`)}, QuerySafe)
	require.NoError(t, err)
	require.Equal(t, OutcomeUnknown, v.Outcome)
	require.Equal(t, "(check-sat)", v.OfflineQuery)

	_, err = DecodeVerdict(req, Result{Answer: json.RawMessage(`{"result":"maybe"}`)}, QuerySat)
	require.ErrorIs(t, err, ErrUnsupportedShape)
}

func TestDecodeTypeDescription(t *testing.T) {
	testlog.Start(t)
	req := Request{ID: 1, Method: MethodCheckType}
	td, err := DecodeTypeDescription(req, Result{Answer: json.RawMessage(`{"type schema":{"forall":[],"propositions":[],
		"type":{"type":"function","domain":{"type":"bitvector","width":{"type":"number","value":8}},"range":{"type":"Bit"}}}}`)})
	require.NoError(t, err)
	require.Equal(t, "[8] -> Bit", td.Text)
}
