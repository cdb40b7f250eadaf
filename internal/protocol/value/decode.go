package value

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"math/big"
	"strconv"
	"strings"
)

// Decode converts a wire JSON value into a Value, enforcing hint.
// Aggregate arity and length are checked before any element is decoded.
func Decode(raw json.RawMessage, hint Shape) (Value, error) {
	if err := hint.Validate(); err != nil {
		return Value{}, err
	}
	return decode(raw, hint, "$")
}

func decode(raw json.RawMessage, hint Shape, path string) (Value, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Value{}, pathErr(path, ErrMalformed, "empty payload")
	}

	var (
		v   Value
		err error
	)
	switch c := raw[0]; {
	case c == '{':
		return decodeExpr(raw, hint, path)
	case c == '"':
		var src string
		if err = json.Unmarshal(raw, &src); err != nil {
			return Value{}, pathErr(path, ErrMalformed, "%v", err)
		}
		v = Opaque(src)
	case c == 't' || c == 'f':
		var b bool
		if err = json.Unmarshal(raw, &b); err != nil {
			return Value{}, pathErr(path, ErrMalformed, "%v", err)
		}
		v = Bit(b)
	case c == '-' || (c >= '0' && c <= '9'):
		v, err = decodeInteger(raw, path)
		if err != nil {
			return Value{}, err
		}
	case c == 'n':
		return Value{}, pathErr(path, ErrUnsupportedShape, "null value")
	default:
		return Value{}, pathErr(path, ErrUnsupportedShape, "bare JSON %q", string(c))
	}

	if err := expectKind(hint, v.Kind, path); err != nil {
		return Value{}, err
	}
	return v, nil
}

func decodeInteger(raw json.RawMessage, path string) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var num json.Number
	if err := dec.Decode(&num); err != nil {
		return Value{}, pathErr(path, ErrMalformed, "%v", err)
	}
	n, ok := new(big.Int).SetString(num.String(), 10)
	if !ok {
		return Value{}, pathErr(path, ErrMalformed, "non-integral number %s", num)
	}
	return Value{Kind: KindInteger, Int: n}, nil
}

func expectKind(hint Shape, got Kind, path string) error {
	if hint.Kind == KindAny || hint.Kind == got {
		return nil
	}
	return pathErr(path, ErrShapeMismatch, "want %s, got %s", hint, got)
}

func decodeExpr(raw json.RawMessage, hint Shape, path string) (Value, error) {
	var w struct {
		Expression string          `json:"expression"`
		Encoding   string          `json:"encoding"`
		Width      *json.Number    `json:"width"`
		Data       json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return Value{}, pathErr(path, ErrMalformed, "%v", err)
	}

	switch w.Expression {
	case exprBits:
		if err := expectKind(hint, KindBits, path); err != nil {
			return Value{}, err
		}
		return decodeBits(w.Encoding, w.Width, w.Data, hint, path)
	case exprUnit:
		if err := expectKind(hint, KindTuple, path); err != nil {
			return Value{}, err
		}
		if hint.Kind == KindTuple && len(hint.Elems) != 0 {
			return Value{}, pathErr(path, ErrShapeMismatch, "want arity %d, got 0", len(hint.Elems))
		}
		return Unit(), nil
	case exprTuple:
		if err := expectKind(hint, KindTuple, path); err != nil {
			return Value{}, err
		}
		return decodeTuple(w.Data, hint, path)
	case exprSequence:
		if err := expectKind(hint, KindSequence, path); err != nil {
			return Value{}, err
		}
		return decodeSequence(w.Data, hint, path)
	case exprRecord:
		if err := expectKind(hint, KindRecord, path); err != nil {
			return Value{}, err
		}
		return decodeRecord(w.Data, hint, path)
	case "":
		return Value{}, pathErr(path, ErrMissingField, "expression tag")
	default:
		return Value{}, pathErr(path, ErrUnsupportedShape, "expression %q", w.Expression)
	}
}

func decodeBits(encoding string, width *json.Number, data json.RawMessage, hint Shape, path string) (Value, error) {
	if width == nil {
		return Value{}, pathErr(fieldPath(path, "width"), ErrMissingField, "")
	}
	w, err := strconv.Atoi(width.String())
	if err != nil || w < 0 {
		return Value{}, pathErr(fieldPath(path, "width"), ErrMalformed, "width %s", width.String())
	}
	if hint.Kind == KindBits && hint.Width != AnyWidth && hint.Width != w {
		return Value{}, pathErr(path, ErrShapeMismatch, "want width %d, got %d", hint.Width, w)
	}
	if len(data) == 0 {
		return Value{}, pathErr(fieldPath(path, "data"), ErrMissingField, "")
	}
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return Value{}, pathErr(fieldPath(path, "data"), ErrMalformed, "bits data must be a string")
	}

	n := new(big.Int)
	switch encoding {
	case encodingHex:
		text = strings.TrimPrefix(strings.TrimPrefix(text, "0x"), "0X")
		// SetString would accept a sign.
		if strings.HasPrefix(text, "+") || strings.HasPrefix(text, "-") {
			return Value{}, pathErr(fieldPath(path, "data"), ErrMalformed, "signed hex %q", text)
		}
		if text != "" {
			if _, ok := n.SetString(text, 16); !ok {
				return Value{}, pathErr(fieldPath(path, "data"), ErrMalformed, "invalid hex %q", text)
			}
		}
	case encodingBase64:
		buf, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			return Value{}, pathErr(fieldPath(path, "data"), ErrMalformed, "%v", err)
		}
		n.SetBytes(buf)
	case "":
		return Value{}, pathErr(fieldPath(path, "encoding"), ErrMissingField, "")
	default:
		return Value{}, pathErr(fieldPath(path, "encoding"), ErrUnsupportedShape, "encoding %q", encoding)
	}

	if err := checkMagnitude(n, w, path); err != nil {
		return Value{}, err
	}
	return Value{Kind: KindBits, Width: w, Int: n}, nil
}

func decodeList(data json.RawMessage, path string) ([]json.RawMessage, error) {
	if len(data) == 0 {
		return nil, pathErr(fieldPath(path, "data"), ErrMissingField, "")
	}
	if isNull(data) {
		return nil, pathErr(fieldPath(path, "data"), ErrMalformed, "expected array, got null")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, pathErr(fieldPath(path, "data"), ErrMalformed, "expected array")
	}
	return items, nil
}

func decodeTuple(data json.RawMessage, hint Shape, path string) (Value, error) {
	items, err := decodeList(data, path)
	if err != nil {
		return Value{}, err
	}
	if hint.Kind == KindTuple && len(hint.Elems) != len(items) {
		return Value{}, pathErr(path, ErrShapeMismatch, "want arity %d, got %d", len(hint.Elems), len(items))
	}
	elems := make([]Value, len(items))
	for i, item := range items {
		eh := Any()
		if hint.Kind == KindTuple {
			eh = hint.Elems[i]
		}
		elems[i], err = decode(item, eh, indexPath(fieldPath(path, "data"), i))
		if err != nil {
			return Value{}, err
		}
	}
	return Tuple(elems...), nil
}

func decodeSequence(data json.RawMessage, hint Shape, path string) (Value, error) {
	items, err := decodeList(data, path)
	if err != nil {
		return Value{}, err
	}
	if hint.Kind == KindSequence && hint.Len != AnyLen && hint.Len != len(items) {
		return Value{}, pathErr(path, ErrShapeMismatch, "want length %d, got %d", hint.Len, len(items))
	}
	eh := Any()
	if hint.Kind == KindSequence {
		eh = hint.elem()
	}
	elems := make([]Value, len(items))
	for i, item := range items {
		elems[i], err = decode(item, eh, indexPath(fieldPath(path, "data"), i))
		if err != nil {
			return Value{}, err
		}
	}
	return Sequence(elems...), nil
}

func decodeRecord(data json.RawMessage, hint Shape, path string) (Value, error) {
	if len(data) == 0 {
		return Value{}, pathErr(fieldPath(path, "data"), ErrMissingField, "")
	}
	if isNull(data) {
		return Value{}, pathErr(fieldPath(path, "data"), ErrMalformed, "expected object, got null")
	}
	members, err := decodeObject(data, fieldPath(path, "data"))
	if err != nil {
		return Value{}, err
	}
	if hint.Kind == KindRecord {
		for _, name := range sortedFieldNames(hint.Fields) {
			if _, ok := members[name]; !ok {
				return Value{}, pathErr(fieldPath(path, name), ErrMissingField, "")
			}
		}
	}
	fields := make(map[string]Value, len(members))
	for _, name := range sortedFieldNames(members) {
		fh := Any()
		if hint.Kind == KindRecord {
			if h, ok := hint.Fields[name]; ok {
				fh = h
			}
		}
		fv, err := decode(members[name], fh, fieldPath(path, name))
		if err != nil {
			return Value{}, err
		}
		fields[name] = fv
	}
	return Record(fields), nil
}

func isNull(data json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}

// decodeObject reads a JSON object and rejects duplicate member names,
// which encoding/json would otherwise silently collapse.
func decodeObject(data json.RawMessage, path string) (map[string]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, pathErr(path, ErrMalformed, "%v", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, pathErr(path, ErrMalformed, "expected object")
	}
	members := make(map[string]json.RawMessage)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, pathErr(path, ErrMalformed, "%v", err)
		}
		name, ok := tok.(string)
		if !ok {
			return nil, pathErr(path, ErrMalformed, "expected member name")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, pathErr(fieldPath(path, name), ErrMalformed, "%v", err)
		}
		if _, dup := members[name]; dup {
			return nil, pathErr(fieldPath(path, name), ErrMalformed, "duplicate field")
		}
		members[name] = raw
	}
	if _, err := dec.Token(); err != nil && err != io.EOF {
		return nil, pathErr(path, ErrMalformed, "%v", err)
	}
	return members, nil
}
