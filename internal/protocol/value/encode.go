package value

import (
	"encoding/json"
	"strings"
)

const (
	exprBits     = "bits"
	exprSequence = "sequence"
	exprTuple    = "tuple"
	exprUnit     = "unit"
	exprRecord   = "record"

	encodingHex    = "hex"
	encodingBase64 = "base64"
)

// wireExpr is the JSON expression object understood by cryptol-remote-api.
type wireExpr struct {
	Expression string          `json:"expression"`
	Encoding   string          `json:"encoding,omitempty"`
	Width      *int            `json:"width,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Encode converts v into its wire JSON form.
// Bit vectors are always sent hex-encoded, zero-padded to the width.
func Encode(v Value) (json.RawMessage, error) {
	return encode(v, "$")
}

func encode(v Value, path string) (json.RawMessage, error) {
	switch v.Kind {
	case KindBits:
		if v.Width < 0 {
			return nil, pathErr(path, ErrWidthOverflow, "negative width %d", v.Width)
		}
		if v.Int != nil {
			if err := checkMagnitude(v.Int, v.Width, path); err != nil {
				return nil, err
			}
		}
		data, err := json.Marshal(hexDigits(v.Int, v.Width))
		if err != nil {
			return nil, err
		}
		width := v.Width
		return json.Marshal(wireExpr{Expression: exprBits, Encoding: encodingHex, Width: &width, Data: data})

	case KindBit:
		return json.Marshal(v.Bit)

	case KindInteger:
		if v.Int == nil {
			return json.RawMessage("0"), nil
		}
		return json.RawMessage(v.Int.String()), nil

	case KindSequence:
		data, err := encodeList(v.Elems, path)
		if err != nil {
			return nil, err
		}
		return json.Marshal(wireExpr{Expression: exprSequence, Data: data})

	case KindTuple:
		if len(v.Elems) == 0 {
			return json.Marshal(wireExpr{Expression: exprUnit})
		}
		data, err := encodeList(v.Elems, path)
		if err != nil {
			return nil, err
		}
		return json.Marshal(wireExpr{Expression: exprTuple, Data: data})

	case KindRecord:
		fields := make(map[string]json.RawMessage, len(v.Fields))
		for _, name := range sortedFieldNames(v.Fields) {
			if name == "" {
				return nil, pathErr(path, ErrUnsupportedShape, "empty record field name")
			}
			raw, err := encode(v.Fields[name], fieldPath(path, name))
			if err != nil {
				return nil, err
			}
			fields[name] = raw
		}
		data, err := json.Marshal(fields)
		if err != nil {
			return nil, err
		}
		return json.Marshal(wireExpr{Expression: exprRecord, Data: data})

	case KindOpaque:
		if strings.TrimSpace(v.Ref) == "" {
			return nil, pathErr(path, ErrMalformed, "empty opaque reference")
		}
		return json.Marshal(v.Ref)

	default:
		return nil, pathErr(path, ErrUnsupportedShape, "cannot encode %s", v.Kind)
	}
}

func encodeList(elems []Value, path string) (json.RawMessage, error) {
	items := make([]json.RawMessage, 0, len(elems))
	for i, e := range elems {
		raw, err := encode(e, indexPath(path, i))
		if err != nil {
			return nil, err
		}
		items = append(items, raw)
	}
	return json.Marshal(items)
}
