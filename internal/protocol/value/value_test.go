package value

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"testing"

	"github.com/danmuck/cryptolctl/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func randomValue(rng *rand.Rand, depth int) Value {
	leaf := depth <= 0
	choice := rng.Intn(7)
	if leaf {
		choice = rng.Intn(4)
	}
	switch choice {
	case 0:
		width := rng.Intn(513)
		n := new(big.Int).Rand(rng, new(big.Int).Lsh(big.NewInt(1), uint(width)))
		v, err := Bits(width, n)
		if err != nil {
			panic(err)
		}
		return v
	case 1:
		return Bit(rng.Intn(2) == 1)
	case 2:
		n := new(big.Int).Rand(rng, new(big.Int).Lsh(big.NewInt(1), 200))
		if rng.Intn(2) == 0 {
			n.Neg(n)
		}
		return Integer(n)
	case 3:
		return Opaque(fmt.Sprintf("x%d", rng.Intn(1000)))
	case 4:
		elems := make([]Value, rng.Intn(4))
		for i := range elems {
			elems[i] = randomValue(rng, depth-1)
		}
		return Sequence(elems...)
	case 5:
		elems := make([]Value, rng.Intn(4))
		for i := range elems {
			elems[i] = randomValue(rng, depth-1)
		}
		return Tuple(elems...)
	default:
		fields := make(map[string]Value)
		n := rng.Intn(4)
		for i := 0; i < n; i++ {
			fields[fmt.Sprintf("f%d", i)] = randomValue(rng, depth-1)
		}
		return Record(fields)
	}
}

func TestRoundTripRandomValues(t *testing.T) {
	testlog.Start(t)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		v := randomValue(rng, 4)
		raw, err := Encode(v)
		if err != nil {
			t.Fatalf("encode %s: %v", v, err)
		}
		got, err := Decode(raw, Any())
		if err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
		if !got.Equal(v) {
			t.Fatalf("round trip mismatch: want %s got %s (wire %s)", v, got, raw)
		}
	}
}

func TestEncodeBitsWireForm(t *testing.T) {
	testlog.Start(t)
	v := MustBits(12, 0x0ab)
	raw, err := Encode(v)
	require.NoError(t, err)
	require.JSONEq(t, `{"expression":"bits","encoding":"hex","width":12,"data":"0ab"}`, string(raw))
}

func TestEncodeUnitAndEmptySequence(t *testing.T) {
	testlog.Start(t)
	raw, err := Encode(Unit())
	require.NoError(t, err)
	require.JSONEq(t, `{"expression":"unit"}`, string(raw))

	raw, err = Encode(Sequence())
	require.NoError(t, err)
	require.JSONEq(t, `{"expression":"sequence","data":[]}`, string(raw))
}

func TestBitsRejectsOverflow(t *testing.T) {
	testlog.Start(t)
	if _, err := BitsUint64(4, 16); !errors.Is(err, ErrWidthOverflow) {
		t.Fatalf("expected ErrWidthOverflow, got %v", err)
	}
	if _, err := Bits(8, big.NewInt(-1)); !errors.Is(err, ErrWidthOverflow) {
		t.Fatalf("expected ErrWidthOverflow for negative magnitude, got %v", err)
	}

	bad := Value{Kind: KindBits, Width: 4, Int: big.NewInt(0xff)}
	if _, err := Encode(bad); !errors.Is(err, ErrWidthOverflow) {
		t.Fatalf("expected encode overflow, got %v", err)
	}
}

func TestDecodeBitsOverflow(t *testing.T) {
	testlog.Start(t)
	raw := json.RawMessage(`{"expression":"bits","encoding":"hex","width":4,"data":"ff"}`)
	_, err := Decode(raw, Any())
	if !errors.Is(err, ErrWidthOverflow) {
		t.Fatalf("expected ErrWidthOverflow, got %v", err)
	}
}

func TestDecodeRejectsSignedHex(t *testing.T) {
	testlog.Start(t)
	for _, data := range []string{"+ff", "-1", "0x-1"} {
		raw := json.RawMessage(`{"expression":"bits","encoding":"hex","width":8,"data":"` + data + `"}`)
		_, err := Decode(raw, Any())
		if !errors.Is(err, ErrMalformed) {
			t.Fatalf("data %q: expected ErrMalformed, got %v", data, err)
		}
		require.NotErrorIs(t, err, ErrWidthOverflow)
	}
}

func TestDecodeRejectsNullAggregateData(t *testing.T) {
	testlog.Start(t)
	for _, expr := range []string{"sequence", "tuple", "record"} {
		raw := json.RawMessage(`{"expression":"` + expr + `","data":null}`)
		_, err := Decode(raw, Any())
		if !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: expected ErrMalformed, got %v", expr, err)
		}
		var perr *PathError
		require.True(t, errors.As(err, &perr))
		require.Equal(t, "$.data", perr.Path)
	}
}

func TestDecodeBase64Bits(t *testing.T) {
	testlog.Start(t)
	raw := json.RawMessage(`{"expression":"bits","encoding":"base64","width":16,"data":"AAE="}`)
	v, err := Decode(raw, BitsShape(16))
	require.NoError(t, err)
	n, ok := v.Uint64()
	require.True(t, ok)
	require.Equal(t, uint64(1), n)
	require.Equal(t, "0001", v.Hex())
}

func TestDecodeTupleArityMismatch(t *testing.T) {
	testlog.Start(t)
	raw, err := Encode(Tuple(MustBits(8, 1), MustBits(8, 2), MustBits(8, 3)))
	require.NoError(t, err)

	_, err = Decode(raw, TupleShape(BitsShape(8), BitsShape(8)))
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
	var perr *PathError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, "$", perr.Path)
}

func TestDecodeNestedPath(t *testing.T) {
	testlog.Start(t)
	raw := json.RawMessage(`{"expression":"tuple","data":[true,false,{"expression":"record","data":{"x":3}}]}`)
	hint := TupleShape(BitShape(), BitShape(), RecordShape(map[string]Shape{"x": BitsShape(8)}))

	_, err := Decode(raw, hint)
	var perr *PathError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PathError, got %v", err)
	}
	require.ErrorIs(t, err, ErrShapeMismatch)
	require.Equal(t, "$.data[2].x", perr.Path)
}

func TestDecodeRecordFields(t *testing.T) {
	testlog.Start(t)
	raw := json.RawMessage(`{"expression":"record","data":{"a":{"expression":"bits","encoding":"hex","width":8,"data":"0f"},"extra":7}}`)

	v, err := Decode(raw, RecordShape(map[string]Shape{"a": BitsShape(8)}))
	require.NoError(t, err)
	require.Len(t, v.Fields, 2)
	require.True(t, v.Fields["extra"].Equal(Int64(7)))

	_, err = Decode(raw, RecordShape(map[string]Shape{"b": Any()}))
	require.ErrorIs(t, err, ErrMissingField)

	dup := json.RawMessage(`{"expression":"record","data":{"a":true,"a":false}}`)
	_, err = Decode(dup, Any())
	require.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeUnsupported(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{name: "unknown tag", raw: `{"expression":"variant","data":[]}`, want: ErrUnsupportedShape},
		{name: "bare array", raw: `[1,2]`, want: ErrUnsupportedShape},
		{name: "null", raw: `null`, want: ErrUnsupportedShape},
		{name: "missing tag", raw: `{"data":[]}`, want: ErrMissingField},
		{name: "missing width", raw: `{"expression":"bits","encoding":"hex","data":"00"}`, want: ErrMissingField},
		{name: "bad hex", raw: `{"expression":"bits","encoding":"hex","width":8,"data":"zz"}`, want: ErrMalformed},
		{name: "fractional integer", raw: `1.5`, want: ErrMalformed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(json.RawMessage(tc.raw), Any())
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestDecodeLargeInteger(t *testing.T) {
	testlog.Start(t)
	raw := json.RawMessage(`123456789012345678901234567890`)
	v, err := Decode(raw, IntegerShape())
	require.NoError(t, err)
	require.Equal(t, "123456789012345678901234567890", v.String())
}

func TestShapeValidate(t *testing.T) {
	testlog.Start(t)
	if err := BitsShape(-2).Validate(); !errors.Is(err, ErrInvalidShape) {
		t.Fatalf("expected ErrInvalidShape, got %v", err)
	}
	if err := RecordShape(map[string]Shape{"": Any()}).Validate(); !errors.Is(err, ErrInvalidShape) {
		t.Fatalf("expected ErrInvalidShape for empty field name, got %v", err)
	}
	if err := SequenceShape(AnyLen, TupleShape(BitShape())).Validate(); err != nil {
		t.Fatalf("expected valid shape, got %v", err)
	}
}

func TestValueString(t *testing.T) {
	testlog.Start(t)
	v := Tuple(
		MustBits(8, 0xff),
		Bit(true),
		Sequence(MustBits(3, 5)),
		Record(map[string]Value{"b": Int64(-2), "a": Unit()}),
	)
	require.Equal(t, "(0xff, True, [0b101], {a = (), b = -2})", v.String())
}
