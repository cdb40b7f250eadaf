package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/danmuck/cryptolctl/internal/protocol/value"
)

// TypedValue is the answer to "evaluate expression" and "call".
type TypedValue struct {
	Value      value.Value
	Type       value.TypeSchema
	TypeString string
}

// DecodeValue decodes a value answer. A zero hint falls back to the shape
// derived from the server-reported type when that type is monomorphic.
func DecodeValue(req Request, res Result, hint value.Shape) (TypedValue, error) {
	var w struct {
		Value      json.RawMessage `json:"value"`
		Type       json.RawMessage `json:"type"`
		TypeString string          `json:"type string"`
	}
	if err := json.Unmarshal(res.Answer, &w); err != nil {
		return TypedValue{}, CodecError(req.Method, req.ID, fmt.Errorf("%w: answer: %v", value.ErrMalformed, err))
	}
	if len(w.Value) == 0 {
		return TypedValue{}, CodecError(req.Method, req.ID, fmt.Errorf("%w: answer value", value.ErrMissingField))
	}

	out := TypedValue{TypeString: w.TypeString}
	if len(w.Type) > 0 && !bytes.Equal(bytes.TrimSpace(w.Type), []byte("null")) {
		schema, err := value.ParseTypeSchema(w.Type)
		if err != nil {
			return TypedValue{}, CodecError(req.Method, req.ID, err)
		}
		out.Type = schema
		if hint.Kind == value.KindAny && schema.Monomorphic() {
			if derived, ok := schema.Type.Shape(); ok {
				hint = derived
			}
		}
	}

	v, err := value.Decode(w.Value, hint)
	if err != nil {
		return TypedValue{}, CodecError(req.Method, req.ID, err)
	}
	out.Value = v
	return out, nil
}

// TypeDescription is the answer to "check type".
type TypeDescription struct {
	Schema value.TypeSchema
	Text   string
}

func DecodeTypeDescription(req Request, res Result) (TypeDescription, error) {
	var w struct {
		Schema json.RawMessage `json:"type schema"`
	}
	if err := json.Unmarshal(res.Answer, &w); err != nil {
		return TypeDescription{}, CodecError(req.Method, req.ID, fmt.Errorf("%w: answer: %v", value.ErrMalformed, err))
	}
	if len(w.Schema) == 0 {
		return TypeDescription{}, CodecError(req.Method, req.ID, fmt.Errorf("%w: type schema", value.ErrMissingField))
	}
	schema, err := value.ParseTypeSchema(w.Schema)
	if err != nil {
		return TypeDescription{}, CodecError(req.Method, req.ID, err)
	}
	return TypeDescription{Schema: schema, Text: schema.String()}, nil
}

// Outcome is the verdict of a prove, sat or safe query.
type Outcome string

const (
	OutcomeProved         Outcome = "proved"
	OutcomeCounterexample Outcome = "counterexample"
	OutcomeSatisfiable    Outcome = "satisfiable"
	OutcomeUnsatisfiable  Outcome = "unsatisfiable"
	OutcomeUnknown        Outcome = "unknown"
)

// Verdict is a decoded "prove or satisfy" answer.
//
// For counterexample, Value is a tuple of the falsifying arguments. For
// satisfiable, Models holds one tuple per assignment and Value is the first.
type Verdict struct {
	Outcome            Outcome
	Value              value.Value
	Models             []value.Value
	CounterexampleType string
	OfflineQuery       string
}

type wireArg struct {
	Type json.RawMessage `json:"type"`
	Expr json.RawMessage `json:"expr"`
}

func DecodeVerdict(req Request, res Result, query QueryType) (Verdict, error) {
	var w struct {
		Result             string      `json:"result"`
		CounterexampleType string      `json:"counterexample type"`
		Counterexample     []wireArg   `json:"counterexample"`
		Models             [][]wireArg `json:"models"`
		Query              string      `json:"query"`
	}
	if err := json.Unmarshal(res.Answer, &w); err != nil {
		return Verdict{}, CodecError(req.Method, req.ID, fmt.Errorf("%w: answer: %v", value.ErrMalformed, err))
	}

	switch w.Result {
	case "unsatisfiable":
		if query == QuerySat {
			return Verdict{Outcome: OutcomeUnsatisfiable}, nil
		}
		return Verdict{Outcome: OutcomeProved}, nil
	case "invalid":
		args, err := decodeArgs(req, w.Counterexample)
		if err != nil {
			return Verdict{}, err
		}
		return Verdict{Outcome: OutcomeCounterexample, Value: args, CounterexampleType: w.CounterexampleType}, nil
	case "satisfied":
		models := make([]value.Value, 0, len(w.Models))
		for _, m := range w.Models {
			args, err := decodeArgs(req, m)
			if err != nil {
				return Verdict{}, err
			}
			models = append(models, args)
		}
		v := Verdict{Outcome: OutcomeSatisfiable, Models: models}
		if len(models) > 0 {
			v.Value = models[0]
		}
		return v, nil
	case "offline":
		return Verdict{Outcome: OutcomeUnknown, OfflineQuery: w.Query}, nil
	case "":
		return Verdict{}, CodecError(req.Method, req.ID, fmt.Errorf("%w: result", value.ErrMissingField))
	default:
		return Verdict{}, CodecError(req.Method, req.ID, fmt.Errorf("%w: prover result %q", value.ErrUnsupportedShape, w.Result))
	}
}

func decodeArgs(req Request, args []wireArg) (value.Value, error) {
	elems := make([]value.Value, 0, len(args))
	for _, a := range args {
		hint := value.Any()
		if len(a.Type) > 0 {
			typ, err := value.ParseType(a.Type)
			if err != nil {
				return value.Value{}, CodecError(req.Method, req.ID, err)
			}
			if s, ok := typ.Shape(); ok {
				hint = s
			}
		}
		v, err := value.Decode(a.Expr, hint)
		if err != nil {
			return value.Value{}, CodecError(req.Method, req.ID, err)
		}
		elems = append(elems, v)
	}
	return value.Tuple(elems...), nil
}

// ModuleInfo is the answer to "focused module". Name is empty when no
// module is focused.
type ModuleInfo struct {
	Name          string `json:"module"`
	Parameterized bool   `json:"parameterized"`
}

func DecodeModuleInfo(req Request, res Result) (ModuleInfo, error) {
	if bytes.Equal(bytes.TrimSpace(res.Answer), []byte("null")) {
		return ModuleInfo{}, nil
	}
	var info ModuleInfo
	if err := json.Unmarshal(res.Answer, &info); err != nil {
		return ModuleInfo{}, CodecError(req.Method, req.ID, fmt.Errorf("%w: answer: %v", value.ErrMalformed, err))
	}
	return info, nil
}

// NameInfo describes one name in scope.
type NameInfo struct {
	Name          string
	TypeString    string
	Type          value.TypeSchema
	Module        string
	Documentation string
}

func DecodeNames(req Request, res Result) ([]NameInfo, error) {
	var w []struct {
		Name          string          `json:"name"`
		TypeString    string          `json:"type string"`
		Type          json.RawMessage `json:"type"`
		Module        string          `json:"module"`
		Documentation string          `json:"documentation"`
	}
	if err := json.Unmarshal(res.Answer, &w); err != nil {
		return nil, CodecError(req.Method, req.ID, fmt.Errorf("%w: answer: %v", value.ErrMalformed, err))
	}
	names := make([]NameInfo, 0, len(w))
	for _, n := range w {
		info := NameInfo{Name: n.Name, TypeString: n.TypeString, Module: n.Module, Documentation: n.Documentation}
		if len(n.Type) > 0 {
			schema, err := value.ParseTypeSchema(n.Type)
			if err != nil {
				return nil, CodecError(req.Method, req.ID, err)
			}
			info.Type = schema
		}
		names = append(names, info)
	}
	return names, nil
}
