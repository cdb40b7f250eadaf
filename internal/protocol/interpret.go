package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	errNilResponse   = errors.New("nil response")
	errBadVersion    = errors.New("unexpected jsonrpc version")
	errNoOutcome     = errors.New("response has neither result nor error")
	errBothOutcomes  = errors.New("response has both result and error")
	errMissingState  = errors.New("result is missing state")
	errMissingID     = errors.New("response is missing id")
	errMalformedBody = errors.New("malformed result")
)

// Interpret checks a response against the request it answers and splits it
// into a Result or a classified *Error.
func Interpret(req Request, resp *Response) (Result, error) {
	malformed := func(err error) (Result, error) {
		return Result{}, TransportError(req.Method, req.ID, KindMalformedResponse, true, err)
	}
	if resp == nil {
		return malformed(errNilResponse)
	}
	if resp.JSONRPC != JSONRPCVersion {
		return malformed(fmt.Errorf("%w %q", errBadVersion, resp.JSONRPC))
	}

	id, ok := resp.RequestID()
	if !ok {
		// JSON-RPC servers answer unparseable requests with a null id.
		if resp.Error == nil {
			return malformed(errMissingID)
		}
	} else if id != req.ID {
		return Result{}, TransportError(req.Method, req.ID, KindCorrelationMismatch, true,
			fmt.Errorf("response id %d does not match request id %d", id, req.ID))
	}

	hasResult := len(resp.Result) > 0 && !bytes.Equal(bytes.TrimSpace(resp.Result), []byte("null"))
	switch {
	case resp.Error != nil && hasResult:
		return malformed(errBothOutcomes)
	case resp.Error != nil:
		return Result{}, applicationError(req, resp.Error)
	case !hasResult:
		return malformed(errNoOutcome)
	}

	var w struct {
		Answer json.RawMessage `json:"answer"`
		State  json.RawMessage `json:"state"`
		Stdout string          `json:"stdout"`
		Stderr string          `json:"stderr"`
	}
	if err := json.Unmarshal(resp.Result, &w); err != nil {
		return malformed(fmt.Errorf("%w: %v", errMalformedBody, err))
	}
	state := bytes.TrimSpace(w.State)
	if len(state) == 0 || bytes.Equal(state, []byte("null")) {
		return malformed(errMissingState)
	}
	var handle StateHandle
	if err := json.Unmarshal(state, &handle); err != nil {
		return malformed(fmt.Errorf("%w: state: %v", errMalformedBody, err))
	}
	answer := w.Answer
	if len(answer) == 0 {
		answer = json.RawMessage("null")
	}
	return Result{Answer: answer, State: handle, Stdout: w.Stdout, Stderr: w.Stderr}, nil
}

func applicationError(req Request, rerr *ResponseError) *Error {
	e := &Error{
		Category:  CategoryApplication,
		Kind:      ClassifyCode(rerr.Code, rerr.Message),
		Method:    req.Method,
		RequestID: req.ID,
		Code:      rerr.Code,
		Message:   rerr.Message,
		Data:      rerr.Data,
	}
	if len(rerr.Data) > 0 {
		var d struct {
			Stdout string `json:"stdout"`
			Stderr string `json:"stderr"`
		}
		if json.Unmarshal(rerr.Data, &d) == nil {
			e.Stdout = d.Stdout
			e.Stderr = d.Stderr
		}
	}
	return e
}

// Server error codes as assigned by cryptol-remote-api and JSON-RPC.
const (
	CodeJSONParse          = -32700
	CodeCryptolParse       = 20000
	CodeModuleParse        = 20540
	CodeUnknownIdentifier  = 20700
	CodeTypeErrors         = 20040
	CodeUnsupportedType    = 20200
	CodeTypeCheck          = 20210
	CodeTypeCheckingFailed = 20730
	CodeEvalFailed         = 20220
	CodeEvalRangeStart     = 20300
	CodeEvalRangeEnd       = 20499
)

// ClassifyCode maps a server error to an application Kind.
func ClassifyCode(code int, message string) Kind {
	switch {
	case code == CodeJSONParse || code == CodeCryptolParse || code == CodeModuleParse:
		return KindParse
	case code == CodeUnknownIdentifier || strings.Contains(strings.ToLower(message), "not in scope"):
		return KindUnknownIdentifier
	case code == CodeTypeErrors || code == CodeUnsupportedType || code == CodeTypeCheck || code == CodeTypeCheckingFailed:
		return KindType
	case code == CodeEvalFailed || (code >= CodeEvalRangeStart && code <= CodeEvalRangeEnd):
		return KindEvaluation
	default:
		return KindOther
	}
}
