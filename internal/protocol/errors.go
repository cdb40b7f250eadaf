package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/cryptolctl/internal/protocol/value"
)

// Category is the top-level class of a client failure.
type Category uint8

const (
	CategoryUnknown Category = iota
	CategoryValidation
	CategoryTransport
	CategoryApplication
	CategoryCodec
)

func (c Category) String() string {
	switch c {
	case CategoryValidation:
		return "validation"
	case CategoryTransport:
		return "transport"
	case CategoryApplication:
		return "application"
	case CategoryCodec:
		return "codec"
	default:
		return "unknown"
	}
}

// Kind refines a Category.
type Kind string

const (
	KindInvalidParams Kind = "invalid-params"

	KindSessionClosed       Kind = "session-closed"
	KindTimeout             Kind = "timeout"
	KindCanceled            Kind = "canceled"
	KindConnection          Kind = "connection"
	KindHTTPStatus          Kind = "http-status"
	KindMalformedResponse   Kind = "malformed-response"
	KindCorrelationMismatch Kind = "correlation-mismatch"

	KindParse             Kind = "parse"
	KindType              Kind = "type"
	KindEvaluation        Kind = "evaluation"
	KindUnknownIdentifier Kind = "unknown-identifier"
	KindOther             Kind = "other"

	KindShapeMismatch    Kind = "shape-mismatch"
	KindWidthOverflow    Kind = "width-overflow"
	KindUnsupportedShape Kind = "unsupported-shape"
	KindMissingField     Kind = "missing-field"
	KindMalformedValue   Kind = "malformed-value"
)

// Error is the single error type surfaced by the client.
//
// Application errors carry the server's code, message, data and captured
// output verbatim. OutcomeUnknown is set on transport failures that happened
// after the request may have reached the server.
type Error struct {
	Category       Category
	Kind           Kind
	Method         Method
	RequestID      uint64
	Code           int
	Message        string
	Data           json.RawMessage
	Stdout         string
	Stderr         string
	OutcomeUnknown bool
	Err            error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("cryptol: ")
	b.WriteString(e.Category.String())
	if e.Kind != "" {
		b.WriteString(" (")
		b.WriteString(string(e.Kind))
		b.WriteString(")")
	}
	if e.Method != "" {
		fmt.Fprintf(&b, " in %q", string(e.Method))
	}
	if e.Category == CategoryApplication {
		fmt.Fprintf(&b, ": code %d", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.OutcomeUnknown {
		b.WriteString(" (outcome unknown)")
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches a target *Error by category and, when set, kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Category != CategoryUnknown && t.Category != e.Category {
		return false
	}
	if t.Kind != "" && t.Kind != e.Kind {
		return false
	}
	return true
}

var (
	ErrValidation  = &Error{Category: CategoryValidation}
	ErrTransport   = &Error{Category: CategoryTransport}
	ErrApplication = &Error{Category: CategoryApplication}
	ErrCodec       = &Error{Category: CategoryCodec}

	ErrSessionClosed     = &Error{Category: CategoryTransport, Kind: KindSessionClosed}
	ErrTimeout           = &Error{Category: CategoryTransport, Kind: KindTimeout}
	ErrCanceled          = &Error{Category: CategoryTransport, Kind: KindCanceled}
	ErrConnection        = &Error{Category: CategoryTransport, Kind: KindConnection}
	ErrHTTPStatus        = &Error{Category: CategoryTransport, Kind: KindHTTPStatus}
	ErrMalformedResponse = &Error{Category: CategoryTransport, Kind: KindMalformedResponse}
	ErrCorrelation       = &Error{Category: CategoryTransport, Kind: KindCorrelationMismatch}

	ErrParse             = &Error{Category: CategoryApplication, Kind: KindParse}
	ErrType              = &Error{Category: CategoryApplication, Kind: KindType}
	ErrEvaluation        = &Error{Category: CategoryApplication, Kind: KindEvaluation}
	ErrUnknownIdentifier = &Error{Category: CategoryApplication, Kind: KindUnknownIdentifier}

	ErrShapeMismatch    = &Error{Category: CategoryCodec, Kind: KindShapeMismatch}
	ErrWidthOverflow    = &Error{Category: CategoryCodec, Kind: KindWidthOverflow}
	ErrUnsupportedShape = &Error{Category: CategoryCodec, Kind: KindUnsupportedShape}
	ErrMissingField     = &Error{Category: CategoryCodec, Kind: KindMissingField}
)

func validationError(method Method, format string, args ...any) *Error {
	return &Error{
		Category: CategoryValidation,
		Kind:     KindInvalidParams,
		Method:   method,
		Message:  fmt.Sprintf(format, args...),
	}
}

// ValidationError reports input rejected before any network call.
func ValidationError(method Method, err error) *Error {
	return &Error{Category: CategoryValidation, Kind: KindInvalidParams, Method: method, Err: err}
}

// TransportError wraps a delivery failure.
func TransportError(method Method, id uint64, kind Kind, outcomeUnknown bool, err error) *Error {
	return &Error{
		Category:       CategoryTransport,
		Kind:           kind,
		Method:         method,
		RequestID:      id,
		OutcomeUnknown: outcomeUnknown,
		Err:            err,
	}
}

// CodecError wraps a value package failure, classifying it by sentinel.
func CodecError(method Method, id uint64, err error) *Error {
	kind := KindMalformedValue
	switch {
	case errors.Is(err, value.ErrShapeMismatch), errors.Is(err, value.ErrInvalidShape):
		kind = KindShapeMismatch
	case errors.Is(err, value.ErrWidthOverflow):
		kind = KindWidthOverflow
	case errors.Is(err, value.ErrUnsupportedShape):
		kind = KindUnsupportedShape
	case errors.Is(err, value.ErrMissingField):
		kind = KindMissingField
	}
	return &Error{Category: CategoryCodec, Kind: kind, Method: method, RequestID: id, Err: err}
}

// IsOutcomeUnknown reports whether err is a transport failure after which
// the server may or may not have executed the request.
func IsOutcomeUnknown(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.OutcomeUnknown
}
