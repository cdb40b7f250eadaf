package cryptol

import (
	"encoding/json"
	"math/big"

	"github.com/danmuck/cryptolctl/internal/protocol"
	"github.com/danmuck/cryptolctl/internal/protocol/session"
	"github.com/danmuck/cryptolctl/internal/protocol/value"
)

type (
	Config        = session.Config
	TLSConfig     = session.TLSConfig
	BackoffConfig = session.BackoffConfig
	SecurityMode  = session.SecurityMode
	CallHook      = session.CallHook
	CallInfo      = session.CallInfo
	CallStats     = session.CallStats
	HookToken     = session.HookToken

	Value      = value.Value
	Kind       = value.Kind
	Shape      = value.Shape
	Type       = value.Type
	TypeSchema = value.TypeSchema
	PathError  = value.PathError

	Error           = protocol.Error
	ErrorCategory   = protocol.Category
	ErrorKind       = protocol.Kind
	StateHandle     = protocol.StateHandle
	TypedValue      = protocol.TypedValue
	TypeDescription = protocol.TypeDescription
	Verdict         = protocol.Verdict
	Outcome         = protocol.Outcome
	ModuleInfo      = protocol.ModuleInfo
	NameInfo        = protocol.NameInfo
)

const (
	SecurityModeDevelopment = session.SecurityModeDevelopment
	SecurityModeProduction  = session.SecurityModeProduction

	KindAny      = value.KindAny
	KindBits     = value.KindBits
	KindBit      = value.KindBit
	KindInteger  = value.KindInteger
	KindSequence = value.KindSequence
	KindTuple    = value.KindTuple
	KindRecord   = value.KindRecord
	KindOpaque   = value.KindOpaque

	AnyWidth = value.AnyWidth
	AnyLen   = value.AnyLen

	OutcomeProved         = protocol.OutcomeProved
	OutcomeCounterexample = protocol.OutcomeCounterexample
	OutcomeSatisfiable    = protocol.OutcomeSatisfiable
	OutcomeUnsatisfiable  = protocol.OutcomeUnsatisfiable
	OutcomeUnknown        = protocol.OutcomeUnknown

	CategoryValidation  = protocol.CategoryValidation
	CategoryTransport   = protocol.CategoryTransport
	CategoryApplication = protocol.CategoryApplication
	CategoryCodec       = protocol.CategoryCodec

	DefaultProver = protocol.DefaultProver
	AllResults    = int(protocol.AllResults)
)

var (
	ErrValidation        = protocol.ErrValidation
	ErrTransport         = protocol.ErrTransport
	ErrApplication       = protocol.ErrApplication
	ErrCodec             = protocol.ErrCodec
	ErrSessionClosed     = protocol.ErrSessionClosed
	ErrTimeout           = protocol.ErrTimeout
	ErrCanceled          = protocol.ErrCanceled
	ErrConnection        = protocol.ErrConnection
	ErrHTTPStatus        = protocol.ErrHTTPStatus
	ErrMalformedResponse = protocol.ErrMalformedResponse
	ErrCorrelation       = protocol.ErrCorrelation
	ErrParse             = protocol.ErrParse
	ErrType              = protocol.ErrType
	ErrEvaluation        = protocol.ErrEvaluation
	ErrUnknownIdentifier = protocol.ErrUnknownIdentifier
	ErrShapeMismatch     = protocol.ErrShapeMismatch
	ErrWidthOverflow     = protocol.ErrWidthOverflow
	ErrUnsupportedShape  = protocol.ErrUnsupportedShape
	ErrMissingField      = protocol.ErrMissingField
)

// IsOutcomeUnknown reports whether the server may have executed a request
// whose response was lost.
func IsOutcomeUnknown(err error) bool { return protocol.IsOutcomeUnknown(err) }

func Bits(width int, n *big.Int) (Value, error) { return value.Bits(width, n) }
func BitsUint64(width int, n uint64) (Value, error) { return value.BitsUint64(width, n) }
func Bit(b bool) Value { return value.Bit(b) }
func Integer(n *big.Int) Value { return value.Integer(n) }
func Int64(n int64) Value { return value.Int64(n) }
func Sequence(elems ...Value) Value { return value.Sequence(elems...) }
func Tuple(elems ...Value) Value { return value.Tuple(elems...) }
func Unit() Value { return value.Unit() }
func Record(fields map[string]Value) Value { return value.Record(fields) }
func Opaque(src string) Value { return value.Opaque(src) }
func Encode(v Value) (json.RawMessage, error) { return value.Encode(v) }
func Decode(raw []byte, hint Shape) (Value, error) { return value.Decode(raw, hint) }
func Any() Shape { return value.Any() }
func BitsShape(width int) Shape { return value.BitsShape(width) }
func BitShape() Shape { return value.BitShape() }
func IntegerShape() Shape { return value.IntegerShape() }
func OpaqueShape() Shape { return value.OpaqueShape() }
func SequenceShape(n int, elem Shape) Shape { return value.SequenceShape(n, elem) }
func TupleShape(elems ...Shape) Shape { return value.TupleShape(elems...) }
func UnitShape() Shape { return value.UnitShape() }
func RecordShape(fields map[string]Shape) Shape { return value.RecordShape(fields) }
