package dlms

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

func mustBits(t *testing.T, s string) Value {
	t.Helper()
	v, err := NewBitString(s)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func roundTrip(t *testing.T, v Value) {
	t.Helper()
	data, err := Encode(v)
	if err != nil {
		t.Fatalf("encode %v: %v", v, err)
	}
	got, n, err := Decode(data, TypeAuto)
	if err != nil {
		t.Fatalf("decode %v (% X): %v", v, data, err)
	}
	if n != len(data) {
		t.Errorf("%v: consumed %d, want %d", v, n, len(data))
	}
	if !Equal(got, v) {
		t.Errorf("round trip: got %v, want %v", got, v)
	}
}

func TestEncodeScalars(t *testing.T) {
	tests := []struct {
		v    Value
		want []byte
	}{
		{NewNone(), []byte{0x00}},
		{NewBool(true), []byte{0x03, 0x01}},
		{NewInt8(-1), []byte{0x0F, 0xFF}},
		{NewUInt16(0x1234), []byte{0x12, 0x12, 0x34}},
		{NewInt32(-2), []byte{0x05, 0xFF, 0xFF, 0xFF, 0xFE}},
		{NewUInt32(0x01020304), []byte{0x06, 0x01, 0x02, 0x03, 0x04}},
		{NewEnum(7), []byte{0x16, 0x07}},
		{NewOctetString([]byte{0xAA, 0xBB}), []byte{0x09, 0x02, 0xAA, 0xBB}},
		{NewVisibleString("Hi"), []byte{0x0A, 0x02, 'H', 'i'}},
		{NewFloat32(1), []byte{0x17, 0x3F, 0x80, 0x00, 0x00}},
	}
	for _, tt := range tests {
		got, err := Encode(tt.v)
		if err != nil {
			t.Fatalf("encode %v: %v", tt.v, err)
		}
		if !bytes.Equal(got, tt.want) {
			t.Errorf("encode %v = % X, want % X", tt.v, got, tt.want)
		}
	}
}

func TestEncodeBitString(t *testing.T) {
	got, err := Encode(mustBits(t, "1010000011"))
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x04, 0x0A, 0xA0, 0xC0}
	if !bytes.Equal(got, want) {
		t.Errorf("encoded % X, want % X", got, want)
	}
}

func TestRoundTripScalars(t *testing.T) {
	values := []Value{
		NewNone(),
		NewBool(false),
		NewBool(true),
		NewInt8(math.MinInt8),
		NewInt16(math.MinInt16),
		NewInt32(math.MaxInt32),
		NewInt64(math.MinInt64),
		NewUInt8(math.MaxUint8),
		NewUInt16(math.MaxUint16),
		NewUInt32(math.MaxUint32),
		NewUInt64(math.MaxUint64),
		NewEnum(255),
		NewFloat32(-3.25),
		NewFloat64(math.Pi),
		NewOctetString(nil),
		NewOctetString([]byte{1, 0, 1, 8, 0, 255}),
		NewVisibleString(""),
		NewVisibleString("meter 42"),
		mustBits(t, ""),
		mustBits(t, "1"),
		mustBits(t, "0110011001"),
	}
	for _, v := range values {
		roundTrip(t, v)
	}
}

func nested(depth int) Value {
	if depth == 0 {
		return NewUInt32(uint32(depth + 1))
	}
	inner := nested(depth - 1)
	if depth%2 == 0 {
		return NewArray(inner, NewVisibleString("x"), inner)
	}
	return NewStructure(NewInt16(-int16(depth)), inner, NewOctetString([]byte{byte(depth)}))
}

func TestRoundTripNested(t *testing.T) {
	for depth := 0; depth <= 5; depth++ {
		roundTrip(t, nested(depth))
	}
	roundTrip(t, NewArray())
	roundTrip(t, NewStructure(NewArray(), NewStructure(), NewNone()))
}

func TestRoundTripSkipMasks(t *testing.T) {
	full := DateTime{
		Year: 2024, Month: 3, Day: 31, DayOfWeek: 7,
		Hour: 23, Minute: 59, Second: 58, Hundredths: 99,
		Deviation: -120, Status: StatusDaylightSaving,
	}
	for mask := Skip(0); mask <= SkipAll; mask++ {
		d := full
		d.Skip = mask
		roundTrip(t, NewDateTime(d))
		roundTrip(t, NewDate(d))
		roundTrip(t, NewTime(d))
	}
}

func TestDateTimeSentinels(t *testing.T) {
	d := DateTime{Month: 1, Day: 2, Hour: 3, Skip: SkipYear | SkipDayOfWeek | SkipMinute | SkipSecond | SkipHundredths | SkipDeviation | SkipStatus}
	data, err := Encode(NewDateTime(d))
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x19, 0xFF, 0xFF, 0x01, 0x02, 0xFF, 0x03, 0xFF, 0xFF, 0xFF, 0x80, 0x00, 0xFF}
	if !bytes.Equal(data, want) {
		t.Fatalf("encoded % X, want % X", data, want)
	}
	v, _, err := Decode(data, TypeAuto)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := v.DateTime()
	if got.Skip != d.Skip {
		t.Errorf("skip = %010b, want %010b", got.Skip, d.Skip)
	}
}

func TestCountBoundaries(t *testing.T) {
	tests := []struct {
		n      int
		header []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7F}},
		{128, []byte{0x81, 0x80}},
		{255, []byte{0x81, 0xFF}},
		{256, []byte{0x82, 0x01, 0x00}},
		{65536, []byte{0x83, 0x01, 0x00, 0x00}},
	}
	for _, tt := range tests {
		b := NewBuffer(nil)
		if err := EncodeCount(b, tt.n); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(b.Bytes(), tt.header) {
			t.Errorf("count %d = % X, want % X", tt.n, b.Bytes(), tt.header)
		}
		got, err := DecodeCount(NewBuffer(tt.header))
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.n {
			t.Errorf("decode count = %d, want %d", got, tt.n)
		}
	}

	for _, n := range []int{127, 128} {
		items := make([]Value, n)
		for i := range items {
			items[i] = NewUInt8(uint8(i))
		}
		roundTrip(t, NewArray(items...))
		roundTrip(t, NewStructure(items...))
		roundTrip(t, NewOctetString(bytes.Repeat([]byte{0x5A}, n)))
	}
}

func TestDecodeCountTooWide(t *testing.T) {
	_, err := DecodeCount(NewBuffer([]byte{0x85, 1, 2, 3, 4, 5}))
	if !errors.Is(err, ErrFormat) {
		t.Errorf("err = %v, want ErrFormat", err)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"unknown tag", []byte{0x63, 0x00}},
		{"short uint32", []byte{0x06, 0x01, 0x02}},
		{"short octet string", []byte{0x09, 0x05, 0x01}},
		{"short array", []byte{0x01, 0x03, 0x11, 0x01}},
		{"short datetime", []byte{0x19, 0x07, 0xE8}},
		{"truncated count", []byte{0x09, 0x82, 0x01}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, n, err := Decode(tt.data, TypeAuto)
			if !errors.Is(err, ErrFormat) {
				t.Errorf("err = %v, want ErrFormat", err)
			}
			if n != 0 {
				t.Errorf("consumed %d, want 0", n)
			}
		})
	}
}

func TestDecodeOneValuePerCall(t *testing.T) {
	first, _ := Encode(NewUInt16(0xBEEF))
	second, _ := Encode(NewVisibleString("next"))
	data := append(first, second...)

	v, n, err := Decode(data, TypeAuto)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(first) {
		t.Fatalf("consumed %d, want %d", n, len(first))
	}
	if u, _ := v.Uint(); u != 0xBEEF {
		t.Errorf("first = %v", v)
	}
	v, _, err = Decode(data[n:], TypeAuto)
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := v.Str(); s != "next" {
		t.Errorf("second = %v", v)
	}
}

func TestDecodeUntaggedHint(t *testing.T) {
	v, n, err := Decode([]byte{0xFF, 0x9C}, TypeInt16)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("consumed %d, want 2", n)
	}
	if i, _ := v.Int(); i != -100 {
		t.Errorf("got %v, want -100", v)
	}
}

func TestDecodeDepthLimit(t *testing.T) {
	var data []byte
	for i := 0; i <= MaxDepth; i++ {
		data = append(data, byte(TypeArray), 0x01)
	}
	data = append(data, byte(TypeNone))
	if _, _, err := Decode(data, TypeAuto); !errors.Is(err, ErrFormat) {
		t.Errorf("err = %v, want ErrFormat", err)
	}
}

func TestDisplayTypeOverride(t *testing.T) {
	clock := NewDateTime(DateTime{
		Year: 2023, Month: 12, Day: 24, DayOfWeek: 7,
		Hour: 18, Minute: 30, Second: 0, Hundredths: 0,
		Deviation: 60, Skip: SkipStatus,
	})
	wire, err := EncodeAs(clock, TypeOctetString)
	if err != nil {
		t.Fatal(err)
	}
	if wire[0] != byte(TypeOctetString) || wire[1] != 12 {
		t.Fatalf("header % X, want 09 0C", wire[:2])
	}

	got, n, err := DecodeAs(wire, TypeDateTime)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(wire) {
		t.Errorf("consumed %d, want %d", n, len(wire))
	}
	if got.Type() != TypeDateTime {
		t.Fatalf("type = %v, want datetime", got.Type())
	}
	if !Equal(got, clock) {
		t.Errorf("got %v, want %v", got, clock)
	}

	again, err := EncodeAs(got, TypeOctetString)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(again, wire) {
		t.Errorf("re-encoded % X, want % X", again, wire)
	}
}

func TestConvertTypeMismatch(t *testing.T) {
	if _, err := ConvertType(NewOctetString([]byte{1, 2, 3}), TypeDateTime); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("short octet string: err = %v, want ErrTypeMismatch", err)
	}
	if _, err := ConvertType(NewUInt8(1), TypeVisibleString); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("uint8 to string: err = %v, want ErrTypeMismatch", err)
	}
	v, err := ConvertType(NewOctetString([]byte("abc")), TypeVisibleString)
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := v.Str(); s != "abc" {
		t.Errorf("got %q, want abc", s)
	}
}

func TestValueImmutable(t *testing.T) {
	src := []byte{1, 2, 3}
	v := NewOctetString(src)
	src[0] = 9
	got, _ := v.Bytes()
	if got[0] != 1 {
		t.Fatal("constructor did not copy input")
	}
	got[1] = 9
	again, _ := v.Bytes()
	if again[1] != 2 {
		t.Fatal("accessor exposed internal bytes")
	}

	items := []Value{NewUInt8(1)}
	arr := NewArray(items...)
	items[0] = NewUInt8(2)
	members, _ := arr.Items()
	if u, _ := members[0].Uint(); u != 1 {
		t.Fatal("array shares caller slice")
	}
}
