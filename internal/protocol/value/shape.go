package value

import (
	"fmt"
	"strings"
)

const (
	// AnyWidth leaves a bits shape's width unconstrained.
	AnyWidth = -1
	// AnyLen leaves a sequence shape's length unconstrained.
	AnyLen = -1
)

// Shape is a decode-time hint describing the expected structure of a value.
// The zero Shape accepts anything.
type Shape struct {
	Kind   Kind
	Width  int
	Len    int
	Elem   *Shape
	Elems  []Shape
	Fields map[string]Shape
}

func Any() Shape {
	return Shape{}
}

func BitsShape(width int) Shape {
	return Shape{Kind: KindBits, Width: width}
}

func AnyBitsShape() Shape {
	return Shape{Kind: KindBits, Width: AnyWidth}
}

func BitShape() Shape {
	return Shape{Kind: KindBit}
}

func IntegerShape() Shape {
	return Shape{Kind: KindInteger}
}

func OpaqueShape() Shape {
	return Shape{Kind: KindOpaque}
}

func SequenceShape(length int, elem Shape) Shape {
	return Shape{Kind: KindSequence, Len: length, Elem: &elem}
}

func TupleShape(elems ...Shape) Shape {
	if elems == nil {
		elems = []Shape{}
	}
	return Shape{Kind: KindTuple, Elems: elems}
}

func UnitShape() Shape {
	return TupleShape()
}

// RecordShape lists required fields. Fields present on the wire but absent
// from the shape are decoded without constraint.
func RecordShape(fields map[string]Shape) Shape {
	return Shape{Kind: KindRecord, Fields: fields}
}

// Validate rejects hints that cannot describe any value.
func (s Shape) Validate() error {
	return s.validate("$")
}

func (s Shape) validate(path string) error {
	switch s.Kind {
	case KindAny, KindBit, KindInteger, KindOpaque:
		return nil
	case KindBits:
		if s.Width < AnyWidth {
			return pathErr(path, ErrInvalidShape, "bits width %d", s.Width)
		}
		return nil
	case KindSequence:
		if s.Len < AnyLen {
			return pathErr(path, ErrInvalidShape, "sequence length %d", s.Len)
		}
		if s.Elem == nil {
			return nil
		}
		return s.Elem.validate(path + "[]")
	case KindTuple:
		for i, e := range s.Elems {
			if err := e.validate(indexPath(path, i)); err != nil {
				return err
			}
		}
		return nil
	case KindRecord:
		for name, f := range s.Fields {
			if name == "" {
				return pathErr(path, ErrInvalidShape, "empty record field name")
			}
			if err := f.validate(fieldPath(path, name)); err != nil {
				return err
			}
		}
		return nil
	default:
		return pathErr(path, ErrInvalidShape, "unknown kind %s", s.Kind)
	}
}

func (s Shape) elem() Shape {
	if s.Elem == nil {
		return Any()
	}
	return *s.Elem
}

// Check reports whether v conforms to s.
func (s Shape) Check(v Value) error {
	return s.check(v, "$")
}

func (s Shape) check(v Value, path string) error {
	if s.Kind == KindAny {
		return nil
	}
	if s.Kind != v.Kind {
		return pathErr(path, ErrShapeMismatch, "want %s, got %s", s, v.Kind)
	}
	switch s.Kind {
	case KindBits:
		if s.Width != AnyWidth && s.Width != v.Width {
			return pathErr(path, ErrShapeMismatch, "want width %d, got %d", s.Width, v.Width)
		}
	case KindSequence:
		if s.Len != AnyLen && s.Len != len(v.Elems) {
			return pathErr(path, ErrShapeMismatch, "want length %d, got %d", s.Len, len(v.Elems))
		}
		for i, e := range v.Elems {
			if err := s.elem().check(e, indexPath(path, i)); err != nil {
				return err
			}
		}
	case KindTuple:
		if len(s.Elems) != len(v.Elems) {
			return pathErr(path, ErrShapeMismatch, "want arity %d, got %d", len(s.Elems), len(v.Elems))
		}
		for i, e := range v.Elems {
			if err := s.Elems[i].check(e, indexPath(path, i)); err != nil {
				return err
			}
		}
	case KindRecord:
		for _, name := range sortedFieldNames(s.Fields) {
			fv, ok := v.Fields[name]
			if !ok {
				return pathErr(fieldPath(path, name), ErrMissingField, "")
			}
			if err := s.Fields[name].check(fv, fieldPath(path, name)); err != nil {
				return err
			}
		}
	}
	return nil
}

// String renders the shape in Cryptol-like type notation, with "_" for
// unconstrained parts.
func (s Shape) String() string {
	switch s.Kind {
	case KindAny:
		return "_"
	case KindBits:
		if s.Width == AnyWidth {
			return "[_]"
		}
		return fmt.Sprintf("[%d]", s.Width)
	case KindBit:
		return "Bit"
	case KindInteger:
		return "Integer"
	case KindOpaque:
		return "opaque"
	case KindSequence:
		if s.Len == AnyLen {
			return "[_]" + s.elem().String()
		}
		return fmt.Sprintf("[%d]%s", s.Len, s.elem())
	case KindTuple:
		parts := make([]string, len(s.Elems))
		for i, e := range s.Elems {
			parts[i] = e.String()
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case KindRecord:
		names := sortedFieldNames(s.Fields)
		parts := make([]string, len(names))
		for i, name := range names {
			parts[i] = name + " : " + s.Fields[name].String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return s.Kind.String()
	}
}
