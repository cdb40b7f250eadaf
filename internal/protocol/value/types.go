package value

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// Type tags used by cryptol-remote-api type JSON.
const (
	TypeBitvector = "bitvector"
	TypeSequence  = "sequence"
	TypeTuple     = "tuple"
	TypeUnit      = "unit"
	TypeRecord    = "record"
	TypeBit       = "Bit"
	TypeInteger   = "Integer"
	TypeRational  = "Rational"
	TypeZ         = "Z"
	TypeFunction  = "function"
	TypeVariable  = "variable"
	TypeNumber    = "number"
	TypeInf       = "inf"
)

// Type is a server-reported Cryptol type. Unknown tags decode without error
// and render as the bare tag.
type Type struct {
	Tag      string
	Width    *Type
	Length   *Type
	Contents *Type
	Elems    []Type
	Fields   map[string]Type
	Domain   *Type
	Range    *Type
	Modulus  *Type
	Name     string
	Number   *big.Int
}

func (t *Type) UnmarshalJSON(data []byte) error {
	var w struct {
		Type     string          `json:"type"`
		Width    *Type           `json:"width"`
		Length   *Type           `json:"length"`
		Contents json.RawMessage `json:"contents"`
		Fields   map[string]Type `json:"fields"`
		Domain   *Type           `json:"domain"`
		Range    *Type           `json:"range"`
		Modulus  *Type           `json:"modulus"`
		Name     json.RawMessage `json:"name"`
		Value    json.Number     `json:"value"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Type == "" {
		return fmt.Errorf("%w: type tag", ErrMissingField)
	}
	*t = Type{
		Tag:     w.Type,
		Width:   w.Width,
		Length:  w.Length,
		Fields:  w.Fields,
		Domain:  w.Domain,
		Range:   w.Range,
		Modulus: w.Modulus,
		Name:    typeName(w.Name),
	}

	if len(w.Contents) > 0 {
		switch w.Type {
		case TypeTuple:
			if err := json.Unmarshal(w.Contents, &t.Elems); err != nil {
				return err
			}
		default:
			var c Type
			if err := json.Unmarshal(w.Contents, &c); err != nil {
				return err
			}
			t.Contents = &c
		}
	}
	if w.Type == TypeNumber && w.Value != "" {
		n, ok := new(big.Int).SetString(w.Value.String(), 10)
		if !ok {
			return fmt.Errorf("%w: number type value %s", ErrMalformed, w.Value)
		}
		t.Number = n
	}
	return nil
}

// typeName accepts either a plain string or the server's {"name": ...}
// identifier object.
func typeName(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Name
	}
	return ""
}

// TypeParam is one quantified variable of a schema.
type TypeParam struct {
	Name string          `json:"name"`
	Kind json.RawMessage `json:"kind,omitempty"`
}

// TypeSchema is a possibly polymorphic type: forall params. props => type.
type TypeSchema struct {
	Forall       []TypeParam       `json:"forall"`
	Propositions []json.RawMessage `json:"propositions"`
	Type         Type              `json:"type"`
}

func ParseType(raw json.RawMessage) (Type, error) {
	var t Type
	if err := json.Unmarshal(raw, &t); err != nil {
		return Type{}, fmt.Errorf("value: parse type: %w", err)
	}
	return t, nil
}

func ParseTypeSchema(raw json.RawMessage) (TypeSchema, error) {
	var s TypeSchema
	if err := json.Unmarshal(raw, &s); err != nil {
		return TypeSchema{}, fmt.Errorf("value: parse type schema: %w", err)
	}
	return s, nil
}

// Monomorphic reports whether the schema has no quantified variables.
func (s TypeSchema) Monomorphic() bool {
	return len(s.Forall) == 0 && len(s.Propositions) == 0
}

func (s TypeSchema) String() string {
	if len(s.Forall) == 0 {
		return s.Type.String()
	}
	names := make([]string, len(s.Forall))
	for i, p := range s.Forall {
		names[i] = p.Name
	}
	return "{" + strings.Join(names, ", ") + "} " + s.Type.String()
}

// String renders t in Cryptol syntax, e.g. "[384]" or "([8], Bit) -> Integer".
func (t Type) String() string {
	switch t.Tag {
	case TypeBitvector:
		return "[" + t.Width.operand() + "]"
	case TypeSequence:
		return "[" + t.Length.operand() + "]" + t.Contents.operand()
	case TypeTuple:
		parts := make([]string, len(t.Elems))
		for i, e := range t.Elems {
			parts[i] = e.String()
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case TypeUnit:
		return "()"
	case TypeRecord:
		names := sortedFieldNames(t.Fields)
		parts := make([]string, len(names))
		for i, name := range names {
			parts[i] = name + " : " + t.Fields[name].String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case TypeFunction:
		dom := t.Domain.operand()
		if t.Domain != nil && t.Domain.Tag == TypeFunction {
			dom = "(" + dom + ")"
		}
		return dom + " -> " + t.Range.operand()
	case TypeVariable:
		return t.Name
	case TypeNumber:
		if t.Number == nil {
			return "0"
		}
		return t.Number.String()
	case TypeZ:
		return "Z " + t.Modulus.operand()
	default:
		return t.Tag
	}
}

func (t *Type) operand() string {
	if t == nil {
		return "?"
	}
	return t.String()
}

// Shape derives a decode hint from a monomorphic data type. ok is false for
// functions, type variables, infinite sequences and unknown tags.
func (t Type) Shape() (Shape, bool) {
	switch t.Tag {
	case TypeBitvector:
		if w, ok := t.Width.size(); ok {
			return BitsShape(w), true
		}
		return AnyBitsShape(), true
	case TypeSequence:
		if t.Length != nil && t.Length.Tag == TypeInf {
			return Shape{}, false
		}
		if t.Contents == nil {
			return Shape{}, false
		}
		elem, ok := t.Contents.Shape()
		if !ok {
			return Shape{}, false
		}
		n, ok := t.Length.size()
		if !ok {
			n = AnyLen
		}
		return SequenceShape(n, elem), true
	case TypeTuple:
		elems := make([]Shape, len(t.Elems))
		for i, e := range t.Elems {
			s, ok := e.Shape()
			if !ok {
				return Shape{}, false
			}
			elems[i] = s
		}
		return TupleShape(elems...), true
	case TypeUnit:
		return UnitShape(), true
	case TypeRecord:
		fields := make(map[string]Shape, len(t.Fields))
		for name, f := range t.Fields {
			s, ok := f.Shape()
			if !ok {
				return Shape{}, false
			}
			fields[name] = s
		}
		return RecordShape(fields), true
	case TypeBit:
		return BitShape(), true
	case TypeInteger:
		return IntegerShape(), true
	default:
		return Shape{}, false
	}
}

func (t *Type) size() (int, bool) {
	if t == nil || t.Tag != TypeNumber || t.Number == nil || !t.Number.IsInt64() {
		return 0, false
	}
	n := t.Number.Int64()
	if n < 0 || n > int64(^uint(0)>>1) {
		return 0, false
	}
	return int(n), true
}
