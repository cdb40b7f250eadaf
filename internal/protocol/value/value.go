package value

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
)

// Kind identifies the variant held by a Value or required by a Shape.
type Kind uint8

const (
	// KindAny is only meaningful in a Shape: it accepts every value.
	KindAny Kind = iota
	KindBits
	KindBit
	KindInteger
	KindSequence
	KindTuple
	KindRecord
	KindOpaque
)

func (k Kind) String() string {
	switch k {
	case KindAny:
		return "any"
	case KindBits:
		return "bits"
	case KindBit:
		return "bit"
	case KindInteger:
		return "integer"
	case KindSequence:
		return "sequence"
	case KindTuple:
		return "tuple"
	case KindRecord:
		return "record"
	case KindOpaque:
		return "opaque"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is one Cryptol value as carried on the wire.
//
// Only the fields belonging to Kind are meaningful:
//   - KindBits: Width and Int (0 <= Int < 2^Width)
//   - KindBit: Bit
//   - KindInteger: Int (any sign)
//   - KindSequence, KindTuple: Elems (unit is the empty tuple)
//   - KindRecord: Fields
//   - KindOpaque: Ref, Cryptol source text the server evaluates in place
type Value struct {
	Kind   Kind
	Width  int
	Int    *big.Int
	Bit    bool
	Elems  []Value
	Fields map[string]Value
	Ref    string
}

// Bits builds a bit vector. n is copied; nil means zero.
func Bits(width int, n *big.Int) (Value, error) {
	if width < 0 {
		return Value{}, pathErr("$", ErrWidthOverflow, "negative width %d", width)
	}
	v := Value{Kind: KindBits, Width: width, Int: new(big.Int)}
	if n != nil {
		v.Int.Set(n)
	}
	if err := checkMagnitude(v.Int, width, "$"); err != nil {
		return Value{}, err
	}
	return v, nil
}

// BitsUint64 builds a bit vector from a machine word.
func BitsUint64(width int, n uint64) (Value, error) {
	return Bits(width, new(big.Int).SetUint64(n))
}

// MustBits is Bits for constants known to fit.
func MustBits(width int, n uint64) Value {
	v, err := BitsUint64(width, n)
	if err != nil {
		panic(err)
	}
	return v
}

func Bit(b bool) Value {
	return Value{Kind: KindBit, Bit: b}
}

// Integer builds an unbounded Cryptol Integer. n is copied; nil means zero.
func Integer(n *big.Int) Value {
	v := Value{Kind: KindInteger, Int: new(big.Int)}
	if n != nil {
		v.Int.Set(n)
	}
	return v
}

func Int64(n int64) Value {
	return Integer(big.NewInt(n))
}

func Sequence(elems ...Value) Value {
	return Value{Kind: KindSequence, Elems: elems}
}

func Tuple(elems ...Value) Value {
	return Value{Kind: KindTuple, Elems: elems}
}

// Unit is the empty tuple.
func Unit() Value {
	return Value{Kind: KindTuple}
}

func Record(fields map[string]Value) Value {
	return Value{Kind: KindRecord, Fields: fields}
}

// Opaque wraps Cryptol source text, e.g. a function name or an expression
// the server evaluates when the value is used as an argument.
func Opaque(src string) Value {
	return Value{Kind: KindOpaque, Ref: src}
}

// IsUnit reports whether v is the empty tuple.
func (v Value) IsUnit() bool {
	return v.Kind == KindTuple && len(v.Elems) == 0
}

// Uint64 returns the magnitude of a bit vector or integer when it fits.
func (v Value) Uint64() (uint64, bool) {
	if (v.Kind != KindBits && v.Kind != KindInteger) || v.Int == nil {
		return 0, false
	}
	if v.Int.Sign() < 0 || !v.Int.IsUint64() {
		return 0, false
	}
	return v.Int.Uint64(), true
}

// Hex renders a bit vector's magnitude as zero-padded lowercase hex.
func (v Value) Hex() string {
	if v.Kind != KindBits {
		return ""
	}
	return hexDigits(v.Int, v.Width)
}

// Bytes returns a bit vector as big-endian bytes, left-padded to the
// byte length of its width.
func (v Value) Bytes() []byte {
	if v.Kind != KindBits {
		return nil
	}
	n := (v.Width + 7) / 8
	out := make([]byte, n)
	if v.Int != nil {
		v.Int.FillBytes(out)
	}
	return out
}

// Equal reports structural equality. Nil and empty aggregates are equal.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindBits:
		return v.Width == o.Width && cmpInt(v.Int, o.Int) == 0
	case KindBit:
		return v.Bit == o.Bit
	case KindInteger:
		return cmpInt(v.Int, o.Int) == 0
	case KindSequence, KindTuple:
		if len(v.Elems) != len(o.Elems) {
			return false
		}
		for i := range v.Elems {
			if !v.Elems[i].Equal(o.Elems[i]) {
				return false
			}
		}
		return true
	case KindRecord:
		if len(v.Fields) != len(o.Fields) {
			return false
		}
		for name, fv := range v.Fields {
			ov, ok := o.Fields[name]
			if !ok || !fv.Equal(ov) {
				return false
			}
		}
		return true
	case KindOpaque:
		return v.Ref == o.Ref
	default:
		return false
	}
}

// String renders v in Cryptol surface syntax.
func (v Value) String() string {
	var b strings.Builder
	v.write(&b)
	return b.String()
}

func (v Value) write(b *strings.Builder) {
	switch v.Kind {
	case KindBits:
		if v.Width%4 == 0 && v.Width > 0 {
			b.WriteString("0x")
			b.WriteString(hexDigits(v.Int, v.Width))
			return
		}
		b.WriteString("0b")
		b.WriteString(binDigits(v.Int, v.Width))
	case KindBit:
		if v.Bit {
			b.WriteString("True")
		} else {
			b.WriteString("False")
		}
	case KindInteger:
		if v.Int == nil {
			b.WriteString("0")
			return
		}
		b.WriteString(v.Int.String())
	case KindSequence:
		b.WriteByte('[')
		for i, e := range v.Elems {
			if i > 0 {
				b.WriteString(", ")
			}
			e.write(b)
		}
		b.WriteByte(']')
	case KindTuple:
		b.WriteByte('(')
		for i, e := range v.Elems {
			if i > 0 {
				b.WriteString(", ")
			}
			e.write(b)
		}
		b.WriteByte(')')
	case KindRecord:
		b.WriteByte('{')
		for i, name := range sortedFieldNames(v.Fields) {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(name)
			b.WriteString(" = ")
			f := v.Fields[name]
			f.write(b)
		}
		b.WriteByte('}')
	case KindOpaque:
		b.WriteString(v.Ref)
	default:
		fmt.Fprintf(b, "<%s>", v.Kind)
	}
}

func sortedFieldNames[T any](fields map[string]T) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func cmpInt(a, b *big.Int) int {
	if a == nil {
		a = new(big.Int)
	}
	if b == nil {
		b = new(big.Int)
	}
	return a.Cmp(b)
}

func checkMagnitude(n *big.Int, width int, path string) error {
	if n.Sign() < 0 {
		return pathErr(path, ErrWidthOverflow, "negative magnitude %s", n.String())
	}
	if n.BitLen() > width {
		return pathErr(path, ErrWidthOverflow, "magnitude needs %d bits, width is %d", n.BitLen(), width)
	}
	return nil
}

func hexDigits(n *big.Int, width int) string {
	digits := (width + 3) / 4
	if digits == 0 {
		return ""
	}
	s := "0"
	if n != nil {
		s = n.Text(16)
	}
	if len(s) < digits {
		s = strings.Repeat("0", digits-len(s)) + s
	}
	return s
}

func binDigits(n *big.Int, width int) string {
	s := "0"
	if n != nil {
		s = n.Text(2)
	}
	if len(s) < width {
		s = strings.Repeat("0", width-len(s)) + s
	}
	return s
}
