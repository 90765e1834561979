package dlms

import (
	"errors"
	"testing"
)

func TestTextRoundTrip(t *testing.T) {
	values := []Value{
		NewBool(true),
		NewInt8(-7),
		NewInt64(-1 << 40),
		NewUInt16(65535),
		NewEnum(3),
		NewFloat32(0.1),
		NewFloat64(-2.5e-10),
		NewOctetString([]byte{0x00, 0xDE, 0xAD}),
		NewVisibleString("  padded  "),
		NewDate(DateTime{Year: 2021, Month: 5, Day: 6, Skip: SkipDayOfWeek}),
		NewTime(DateTime{Hour: 1, Minute: 2, Second: 3, Hundredths: 4}),
		NewDateTime(DateTime{Year: 2000, Month: 1, Day: 1, Skip: SkipDayOfWeek | SkipTime | SkipDeviation}),
	}
	for _, v := range values {
		got, err := ParseText(v.Type(), v.Text())
		if err != nil {
			t.Fatalf("%v: %v", v, err)
		}
		if !Equal(got, v) {
			t.Errorf("got %v, want %v", got, v)
		}
	}
}

func TestParseTextEmpty(t *testing.T) {
	v, err := ParseText(TypeOctetString, "")
	if err != nil {
		t.Fatal(err)
	}
	if v.Type() != TypeOctetString || v.Len() != 0 {
		t.Errorf("empty octet string = %v", v)
	}

	v, err = ParseText(TypeUInt32, "")
	if err != nil {
		t.Fatal(err)
	}
	if !v.IsNone() {
		t.Errorf("empty uint32 = %v, want none", v)
	}

	v, err = ParseText(TypeDateTime, "")
	if err != nil {
		t.Fatal(err)
	}
	if d, _ := v.DateTime(); d.Skip != SkipAll {
		t.Errorf("empty datetime skip = %010b", d.Skip)
	}
}

func TestParseTextErrors(t *testing.T) {
	tests := []struct {
		t    DataType
		text string
	}{
		{TypeUInt8, "256"},
		{TypeInt8, "-129"},
		{TypeBoolean, "maybe"},
		{TypeOctetString, "XYZ"},
		{TypeBitString, "012"},
	}
	for _, tt := range tests {
		if _, err := ParseText(tt.t, tt.text); !errors.Is(err, ErrFormat) {
			t.Errorf("%s %q: err = %v, want ErrFormat", TypeName(tt.t), tt.text, err)
		}
	}
}

func TestParseHexTolerant(t *testing.T) {
	v, err := ParseText(TypeOctetString, "01 00 01\n08 00 FF")
	if err != nil {
		t.Fatal(err)
	}
	if v.Text() != "0100010800FF" {
		t.Errorf("text = %q", v.Text())
	}
}

func TestAccessors(t *testing.T) {
	if _, ok := NewUInt8(1).Int(); ok {
		t.Error("uint8 reported as signed")
	}
	if n, ok := NewInt16(-5).Number(); !ok || n != -5 {
		t.Errorf("number = %v, %v", n, ok)
	}
	if n, ok := NewEnum(4).Uint(); !ok || n != 4 {
		t.Errorf("enum = %v, %v", n, ok)
	}
	if Equal(NewArray(NewUInt8(1)), NewStructure(NewUInt8(1))) {
		t.Error("array equals structure")
	}
	if NewNone().String() != "none" {
		t.Errorf("none string = %q", NewNone().String())
	}
}

func TestTypeNames(t *testing.T) {
	for typ := range typeNames {
		got, err := ParseTypeName(TypeName(typ))
		if err != nil {
			t.Fatal(err)
		}
		if got != typ {
			t.Errorf("ParseTypeName(%q) = %v, want %v", TypeName(typ), got, typ)
		}
	}
	if got, err := ParseTypeName("25"); err != nil || got != TypeDateTime {
		t.Errorf("numeric name: got %v, %v", got, err)
	}
	if _, err := ParseTypeName("complex"); !errors.Is(err, ErrUnknownType) {
		t.Errorf("err = %v, want ErrUnknownType", err)
	}
	if TypeSize(TypeDateTime) != 12 || TypeSize(TypeOctetString) != -1 {
		t.Error("unexpected type sizes")
	}
}
