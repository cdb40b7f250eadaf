package protocol

import (
	"encoding/json"
	"strings"
)

// Method is a cryptol-remote-api JSON-RPC method name.
type Method string

const (
	MethodLoadModule     Method = "load module"
	MethodLoadFile       Method = "load file"
	MethodEvaluate       Method = "evaluate expression"
	MethodCall           Method = "call"
	MethodCheckType      Method = "check type"
	MethodProveSat       Method = "prove or satisfy"
	MethodFocusedModule  Method = "focused module"
	MethodVisibleNames   Method = "visible names"
	MethodClearState     Method = "clear state"
	MethodClearAllStates Method = "clear all states"
	MethodInterrupt      Method = "interrupt"
)

// Params is implemented by every method's parameter struct.
type Params interface {
	Method() Method
	Validate() error
}

// stateless is implemented by params whose method does not run against an
// interpreter state and therefore carries no "state" member.
type stateless interface {
	stateless()
}

// Loads reports whether params changes the loaded-module set and belongs in
// a session's replay history.
func Loads(p Params) bool {
	switch p.(type) {
	case LoadModuleParams, LoadFileParams:
		return true
	default:
		return false
	}
}

func requireText(method Method, field, text string) error {
	if strings.TrimSpace(text) == "" {
		return validationError(method, "missing %s", field)
	}
	return nil
}

type LoadModuleParams struct {
	ModuleName string `json:"module name"`
}

func (LoadModuleParams) Method() Method { return MethodLoadModule }

func (p LoadModuleParams) Validate() error {
	return requireText(MethodLoadModule, "module name", p.ModuleName)
}

type LoadFileParams struct {
	File string `json:"file"`
}

func (LoadFileParams) Method() Method { return MethodLoadFile }

func (p LoadFileParams) Validate() error {
	return requireText(MethodLoadFile, "file", p.File)
}

type EvaluateParams struct {
	Expression string `json:"expression"`
}

func (EvaluateParams) Method() Method { return MethodEvaluate }

func (p EvaluateParams) Validate() error {
	return requireText(MethodEvaluate, "expression", p.Expression)
}

// CallParams applies a named function to already-encoded arguments.
type CallParams struct {
	Function  string            `json:"function"`
	Arguments []json.RawMessage `json:"arguments"`
}

func (CallParams) Method() Method { return MethodCall }

func (p CallParams) Validate() error {
	if err := requireText(MethodCall, "function", p.Function); err != nil {
		return err
	}
	for i, arg := range p.Arguments {
		if len(arg) == 0 || !json.Valid(arg) {
			return validationError(MethodCall, "argument %d is not valid JSON", i)
		}
	}
	return nil
}

func (p CallParams) MarshalJSON() ([]byte, error) {
	args := p.Arguments
	if args == nil {
		args = []json.RawMessage{}
	}
	return json.Marshal(struct {
		Function  string            `json:"function"`
		Arguments []json.RawMessage `json:"arguments"`
	}{p.Function, args})
}

type CheckTypeParams struct {
	Expression string `json:"expression"`
}

func (CheckTypeParams) Method() Method { return MethodCheckType }

func (p CheckTypeParams) Validate() error {
	return requireText(MethodCheckType, "expression", p.Expression)
}

// QueryType selects the question asked by "prove or satisfy".
type QueryType string

const (
	QuerySat   QueryType = "sat"
	QueryProve QueryType = "prove"
	QuerySafe  QueryType = "safe"
)

// ResultCount bounds the number of satisfying assignments requested.
// AllResults asks for every assignment.
type ResultCount int

const AllResults ResultCount = -1

func (c ResultCount) MarshalJSON() ([]byte, error) {
	if c == AllResults {
		return []byte(`"all"`), nil
	}
	return json.Marshal(int(c))
}

const DefaultProver = "z3"

type ProveSatParams struct {
	QueryType   QueryType   `json:"query type"`
	Expression  string      `json:"expression"`
	Prover      string      `json:"prover"`
	HashConsing string      `json:"hash consing"`
	ResultCount ResultCount `json:"result count"`
}

func (ProveSatParams) Method() Method { return MethodProveSat }

func (p ProveSatParams) Validate() error {
	switch p.QueryType {
	case QuerySat, QueryProve, QuerySafe:
	default:
		return validationError(MethodProveSat, "unknown query type %q", string(p.QueryType))
	}
	if err := requireText(MethodProveSat, "expression", p.Expression); err != nil {
		return err
	}
	if err := requireText(MethodProveSat, "prover", p.Prover); err != nil {
		return err
	}
	switch p.HashConsing {
	case "true", "false":
	default:
		return validationError(MethodProveSat, "hash consing must be \"true\" or \"false\", got %q", p.HashConsing)
	}
	if p.ResultCount < 1 && p.ResultCount != AllResults {
		return validationError(MethodProveSat, "result count %d", int(p.ResultCount))
	}
	return nil
}

type FocusedModuleParams struct{}

func (FocusedModuleParams) Method() Method  { return MethodFocusedModule }
func (FocusedModuleParams) Validate() error { return nil }

type VisibleNamesParams struct{}

func (VisibleNamesParams) Method() Method  { return MethodVisibleNames }
func (VisibleNamesParams) Validate() error { return nil }

// ClearStateParams asks the server to forget one state handle.
type ClearStateParams struct {
	StateToClear StateHandle `json:"state to clear"`
}

func (ClearStateParams) Method() Method { return MethodClearState }
func (ClearStateParams) stateless()     {}

func (p ClearStateParams) Validate() error {
	if p.StateToClear.IsZero() {
		return validationError(MethodClearState, "missing state to clear")
	}
	return nil
}

type ClearAllStatesParams struct{}

func (ClearAllStatesParams) Method() Method  { return MethodClearAllStates }
func (ClearAllStatesParams) Validate() error { return nil }
func (ClearAllStatesParams) stateless()      {}

type InterruptParams struct{}

func (InterruptParams) Method() Method  { return MethodInterrupt }
func (InterruptParams) Validate() error { return nil }
func (InterruptParams) stateless()      {}
