package fakeserver

import (
	"encoding/json"
	"math/big"
	"strconv"
	"strings"

	"github.com/danmuck/cryptolctl/internal/protocol"
	"github.com/danmuck/cryptolctl/internal/protocol/value"
)

// Canned expressions answered out of the box.
const (
	ExprOnePlusOne     = "1 + 1"
	ExprTypeError      = "1 + True"
	ExprSHA384Zero     = "sha384 (join zero : [48][8])"
	ExprTriple         = "(1 : [8], 2 : [8], 3 : [8])"
	ExprBadWidth       = "0xff : [4]"
	ExprRecord         = "{ x = 0x01 : [8], ok = True }"
	ExprUnit           = "()"
	ExprTrivialTheorem = "\\(x : [8]) -> x == x"
	ExprFalseTheorem   = "\\(x : [8]) -> x != 0xff"
	ExprUnsat          = "\\(x : Bit) -> x && ~x"
	ExprSatThree       = "\\(x : [8]) -> x == 3"
)

func (s *Server) installDefaults() {
	s.evals[ExprOnePlusOne] = Reply{Answer: ValueAnswer(value.Int64(2), `{"type":"Integer"}`, "Integer")}
	s.evals[ExprTypeError] = Reply{Error: &protocol.ResponseError{
		Code:    CodeTypeCheck,
		Message: "Type checking failed",
		Data:    json.RawMessage(`{"data":{"source":"<interactive>","path":[]},"stdout":"","stderr":""}`),
	}}
	s.evals[ExprSHA384Zero] = Reply{
		Answer:   ValueAnswer(SHA384(make([]byte, 48)), bitsType(384), "[384]"),
		Requires: "SuiteB",
	}
	s.evals[ExprTriple] = Reply{Answer: ValueAnswer(
		value.Tuple(value.MustBits(8, 1), value.MustBits(8, 2), value.MustBits(8, 3)),
		`{"type":"tuple","contents":[`+bitsType(8)+`,`+bitsType(8)+`,`+bitsType(8)+`]}`,
		"([8], [8], [8])",
	)}
	// The server never produces this; it exercises client-side width checks.
	s.evals[ExprBadWidth] = Reply{Answer: json.RawMessage(
		`{"value":{"expression":"bits","encoding":"hex","width":4,"data":"ff"},"type string":"[4]"}`)}
	s.evals[ExprRecord] = Reply{Answer: ValueAnswer(
		value.Record(map[string]value.Value{"x": value.MustBits(8, 1), "ok": value.Bit(true)}),
		`{"type":"record","fields":{"x":`+bitsType(8)+`,"ok":{"type":"Bit"}}}`,
		"{ok : Bit, x : [8]}",
	)}
	s.evals[ExprUnit] = Reply{Answer: ValueAnswer(value.Unit(), `{"type":"unit"}`, "()")}

	s.types[ExprOnePlusOne] = Reply{Answer: json.RawMessage(`{"type schema":{"forall":[],"propositions":[],"type":{"type":"Integer"}}}`)}
	s.types["sha384"] = Reply{
		Answer:   json.RawMessage(`{"type schema":{"forall":[],"propositions":[],"type":{"type":"function","domain":{"type":"sequence","length":{"type":"number","value":2},"contents":` + bitsType(8) + `},"range":` + bitsType(384) + `}}}`),
		Requires: "SuiteB",
	}

	s.proofs[ExprTrivialTheorem] = Reply{Answer: json.RawMessage(`{"result":"unsatisfiable"}`)}
	s.proofs[ExprFalseTheorem] = Reply{Answer: json.RawMessage(`{"result":"invalid","counterexample type":"predicate falsified","counterexample":[{"type":` +
		bitsType(8) + `,"expr":{"expression":"bits","encoding":"hex","width":8,"data":"ff"}}]}`)}
	s.proofs[ExprUnsat] = Reply{Answer: json.RawMessage(`{"result":"unsatisfiable"}`)}
	s.proofs[ExprSatThree] = Reply{Answer: json.RawMessage(`{"result":"satisfied","models":[[{"type":` +
		bitsType(8) + `,"expr":{"expression":"bits","encoding":"hex","width":8,"data":"03"}}]]}`)}

	s.calls["sha384"] = sha384Call
	s.calls["reverse"] = reverseCall

	s.names["Cryptol"] = []json.RawMessage{
		json.RawMessage(`{"name":"True","type string":"Bit","type":{"forall":[],"propositions":[],"type":{"type":"Bit"}},"module":"Cryptol"}`),
	}
	s.names["SuiteB"] = []json.RawMessage{
		json.RawMessage(`{"name":"sha384","type string":"[2][8] -> [384]","module":"SuiteB","documentation":"SHA-384 digest"}`),
	}
}

// sha384Call hashes one argument: a bit vector, a sequence of bytes, or a
// hex literal such as "0x0001".
func sha384Call(args []json.RawMessage) Reply {
	if len(args) != 1 {
		return typeError("sha384 expects one argument")
	}
	v, err := value.Decode(args[0], value.Any())
	if err != nil {
		return typeError(err.Error())
	}
	msg, ok := messageBytes(v)
	if !ok {
		return typeError("cannot hash " + v.String())
	}
	return Reply{Answer: ValueAnswer(SHA384(msg), bitsType(384), "[384]"), Requires: "SuiteB"}
}

func messageBytes(v value.Value) ([]byte, bool) {
	switch v.Kind {
	case value.KindBits:
		if v.Width%8 != 0 {
			return nil, false
		}
		return v.Bytes(), true
	case value.KindSequence:
		out := make([]byte, 0, len(v.Elems))
		for _, e := range v.Elems {
			n, ok := e.Uint64()
			if !ok || e.Kind != value.KindBits || e.Width != 8 {
				return nil, false
			}
			out = append(out, byte(n))
		}
		return out, true
	case value.KindOpaque:
		lit := strings.TrimSpace(v.Ref)
		if !strings.HasPrefix(lit, "0x") {
			return nil, false
		}
		digits := lit[2:]
		n, ok := new(big.Int).SetString(digits, 16)
		if !ok {
			return nil, false
		}
		bv, err := value.Bits(len(digits)*4, n)
		if err != nil {
			return nil, false
		}
		return messageBytes(bv)
	default:
		return nil, false
	}
}

// reverseCall reverses a sequence value or a "[1, 2, 3]" integer literal.
func reverseCall(args []json.RawMessage) Reply {
	if len(args) != 1 {
		return typeError("reverse expects one argument")
	}
	v, err := value.Decode(args[0], value.Any())
	if err != nil {
		return typeError(err.Error())
	}
	if v.Kind == value.KindOpaque {
		v, err = parseIntList(v.Ref)
		if err != nil {
			return typeError(err.Error())
		}
	}
	if v.Kind != value.KindSequence {
		return typeError("reverse expects a sequence")
	}
	out := make([]value.Value, len(v.Elems))
	for i, e := range v.Elems {
		out[len(v.Elems)-1-i] = e
	}
	typ := `{"type":"sequence","length":{"type":"number","value":` + strconv.Itoa(len(out)) + `},"contents":{"type":"Integer"}}`
	return Reply{Answer: ValueAnswer(value.Sequence(out...), typ, "["+strconv.Itoa(len(out))+"]Integer")}
}

func parseIntList(src string) (value.Value, error) {
	src = strings.TrimSpace(src)
	if !strings.HasPrefix(src, "[") || !strings.HasSuffix(src, "]") {
		return value.Value{}, errNotList
	}
	body := strings.TrimSpace(src[1 : len(src)-1])
	if body == "" {
		return value.Sequence(), nil
	}
	parts := strings.Split(body, ",")
	elems := make([]value.Value, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return value.Value{}, err
		}
		elems = append(elems, value.Int64(n))
	}
	return value.Sequence(elems...), nil
}

type fakeError string

func (e fakeError) Error() string { return string(e) }

const errNotList = fakeError("not a list literal")

func typeError(msg string) Reply {
	return Reply{Error: &protocol.ResponseError{Code: CodeTypeCheck, Message: "Type checking failed: " + msg}}
}
