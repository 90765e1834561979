package dlms

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value is an immutable, dynamically typed attribute value. The zero Value is None.
//
// Construct values with the New* functions; slices passed in are copied and
// accessors hand out copies, so a Value can be shared freely.
type Value struct {
	typ   DataType
	num   uint64 // bool, integers, enum, float bits
	raw   []byte // octet string, visible string, bit string digits
	items []Value
	dt    DateTime
}

func NewNone() Value { return Value{} }

func NewBool(b bool) Value {
	v := Value{typ: TypeBoolean}
	if b {
		v.num = 1
	}
	return v
}

func NewInt8(n int8) Value { return Value{typ: TypeInt8, num: uint64(int64(n))} }

func NewInt16(n int16) Value { return Value{typ: TypeInt16, num: uint64(int64(n))} }

func NewInt32(n int32) Value { return Value{typ: TypeInt32, num: uint64(int64(n))} }

func NewInt64(n int64) Value { return Value{typ: TypeInt64, num: uint64(n)} }

func NewUInt8(n uint8) Value { return Value{typ: TypeUInt8, num: uint64(n)} }

func NewUInt16(n uint16) Value { return Value{typ: TypeUInt16, num: uint64(n)} }

func NewUInt32(n uint32) Value { return Value{typ: TypeUInt32, num: uint64(n)} }

func NewUInt64(n uint64) Value { return Value{typ: TypeUInt64, num: n} }

func NewEnum(n uint8) Value { return Value{typ: TypeEnum, num: uint64(n)} }

func NewFloat32(f float32) Value { return Value{typ: TypeFloat32, num: uint64(math.Float32bits(f))} }

func NewFloat64(f float64) Value { return Value{typ: TypeFloat64, num: math.Float64bits(f)} }

func NewVisibleString(s string) Value { return Value{typ: TypeVisibleString, raw: []byte(s)} }

// NewOctetString copies b. A nil or empty slice yields an empty octet string, not None.
func NewOctetString(b []byte) Value {
	return Value{typ: TypeOctetString, raw: append([]byte{}, b...)}
}

// NewBitString builds a bit string from a string of '0' and '1' digits, most
// significant bit first.
func NewBitString(bits string) (Value, error) {
	for i := 0; i < len(bits); i++ {
		if bits[i] != '0' && bits[i] != '1' {
			return Value{}, fmt.Errorf("%w: bit string %q", ErrTypeMismatch, bits)
		}
	}
	return Value{typ: TypeBitString, raw: []byte(bits)}, nil
}

// NewArray builds an Array from items.
func NewArray(items ...Value) Value {
	return Value{typ: TypeArray, items: append([]Value{}, items...)}
}

// NewStructure builds a Structure from items.
func NewStructure(items ...Value) Value {
	return Value{typ: TypeStructure, items: append([]Value{}, items...)}
}

// NewDateTime wraps a full date-time.
func NewDateTime(d DateTime) Value {
	return Value{typ: TypeDateTime, dt: NormalizeDateTime(d)}
}

// NewDate keeps only the date components of d.
func NewDate(d DateTime) Value {
	d.Skip |= SkipTime | SkipDeviation | SkipStatus
	return Value{typ: TypeDate, dt: NormalizeDateTime(d)}
}

// NewTime keeps only the time components of d.
func NewTime(d DateTime) Value {
	d.Skip |= SkipDate | SkipDeviation | SkipStatus
	return Value{typ: TypeTime, dt: NormalizeDateTime(d)}
}

// Type returns the value's tag.
func (v Value) Type() DataType { return v.typ }

// IsNone reports whether v carries no data.
func (v Value) IsNone() bool { return v.typ == TypeNone }

// Bool returns the boolean payload.
func (v Value) Bool() (bool, bool) {
	if v.typ != TypeBoolean {
		return false, false
	}
	return v.num != 0, true
}

// Int returns the payload of the signed integer kinds.
func (v Value) Int() (int64, bool) {
	switch v.typ {
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64:
		return int64(v.num), true
	}
	return 0, false
}

// Uint returns the payload of the unsigned integer kinds and Enum.
func (v Value) Uint() (uint64, bool) {
	switch v.typ {
	case TypeUInt8, TypeUInt16, TypeUInt32, TypeUInt64, TypeEnum:
		return v.num, true
	}
	return 0, false
}

// Float returns the payload of Float32/Float64.
func (v Value) Float() (float64, bool) {
	switch v.typ {
	case TypeFloat32:
		return float64(math.Float32frombits(uint32(v.num))), true
	case TypeFloat64:
		return math.Float64frombits(v.num), true
	}
	return 0, false
}

// Number returns any numeric payload as float64. Used for scaling.
func (v Value) Number() (float64, bool) {
	if f, ok := v.Float(); ok {
		return f, true
	}
	if n, ok := v.Int(); ok {
		return float64(n), true
	}
	if n, ok := v.Uint(); ok {
		return float64(n), true
	}
	return 0, false
}

// Bytes returns a copy of the OctetString payload.
func (v Value) Bytes() ([]byte, bool) {
	if v.typ != TypeOctetString {
		return nil, false
	}
	return append([]byte{}, v.raw...), true
}

// Str returns the VisibleString payload.
func (v Value) Str() (string, bool) {
	if v.typ != TypeVisibleString {
		return "", false
	}
	return string(v.raw), true
}

// Bits returns the BitString payload as '0'/'1' digits.
func (v Value) Bits() (string, bool) {
	if v.typ != TypeBitString {
		return "", false
	}
	return string(v.raw), true
}

// Items returns a copy of the members of an Array or Structure.
func (v Value) Items() ([]Value, bool) {
	if !v.typ.IsContainer() {
		return nil, false
	}
	return append([]Value{}, v.items...), true
}

// Len returns the member count of a container, the byte length of a string
// kind, the bit count of a bit string, and zero otherwise.
func (v Value) Len() int {
	switch v.typ {
	case TypeArray, TypeStructure:
		return len(v.items)
	case TypeOctetString, TypeVisibleString, TypeBitString:
		return len(v.raw)
	}
	return 0
}

// DateTime returns the payload of Date, Time and DateTime values.
func (v Value) DateTime() (DateTime, bool) {
	switch v.typ {
	case TypeDate, TypeTime, TypeDateTime:
		return v.dt, true
	}
	return DateTime{}, false
}

// Equal reports deep structural equality. Floats compare by bit pattern.
func Equal(a, b Value) bool {
	if a.typ != b.typ || a.num != b.num || a.dt != b.dt {
		return false
	}
	if !bytes.Equal(a.raw, b.raw) || len(a.items) != len(b.items) {
		return false
	}
	for i := range a.items {
		if !Equal(a.items[i], b.items[i]) {
			return false
		}
	}
	return true
}

// Text renders a scalar value in the canonical textual form shared by the XML
// codec and the CLI. Containers render as a bracketed debug list.
func (v Value) Text() string {
	switch v.typ {
	case TypeNone:
		return ""
	case TypeBoolean:
		return strconv.FormatBool(v.num != 0)
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64:
		return strconv.FormatInt(int64(v.num), 10)
	case TypeUInt8, TypeUInt16, TypeUInt32, TypeUInt64, TypeEnum:
		return strconv.FormatUint(v.num, 10)
	case TypeFloat32:
		return strconv.FormatFloat(float64(math.Float32frombits(uint32(v.num))), 'g', -1, 32)
	case TypeFloat64:
		return strconv.FormatFloat(math.Float64frombits(v.num), 'g', -1, 64)
	case TypeOctetString:
		return strings.ToUpper(hex.EncodeToString(v.raw))
	case TypeVisibleString, TypeBitString:
		return string(v.raw)
	case TypeDate, TypeTime, TypeDateTime:
		return FormatDateTime(v.dt)
	}
	parts := make([]string, len(v.items))
	for i, it := range v.items {
		parts[i] = it.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (v Value) String() string {
	if v.typ == TypeNone {
		return "none"
	}
	if v.typ.IsContainer() {
		return TypeName(v.typ) + v.Text()
	}
	return TypeName(v.typ) + "(" + v.Text() + ")"
}

// ParseText is the inverse of Text for scalar types. Empty text yields the
// natural empty value of t: empty bytes/string/bits, an all-skipped date-time,
// or None for numeric kinds.
func ParseText(t DataType, s string) (Value, error) {
	if strings.TrimSpace(s) == "" {
		switch t {
		case TypeOctetString:
			return NewOctetString(nil), nil
		case TypeVisibleString:
			return NewVisibleString(s), nil
		case TypeBitString:
			return Value{typ: TypeBitString, raw: []byte{}}, nil
		case TypeDate:
			return NewDate(DateTime{Skip: SkipAll}), nil
		case TypeTime:
			return NewTime(DateTime{Skip: SkipAll}), nil
		case TypeDateTime:
			return NewDateTime(DateTime{Skip: SkipAll}), nil
		case TypeArray:
			return NewArray(), nil
		case TypeStructure:
			return NewStructure(), nil
		}
		if t.Known() {
			return NewNone(), nil
		}
		return Value{}, fmt.Errorf("%w: 0x%02X", ErrUnknownType, uint8(t))
	}
	if t != TypeVisibleString {
		s = strings.TrimSpace(s)
	}
	bad := func(err error) (Value, error) {
		return Value{}, fmt.Errorf("%w: parse %s %q: %v", ErrFormat, TypeName(t), s, err)
	}
	switch t {
	case TypeBoolean:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return bad(err)
		}
		return NewBool(b), nil
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64:
		n, err := strconv.ParseInt(s, 10, intBits(t))
		if err != nil {
			return bad(err)
		}
		return Value{typ: t, num: uint64(n)}, nil
	case TypeUInt8, TypeUInt16, TypeUInt32, TypeUInt64, TypeEnum:
		n, err := strconv.ParseUint(s, 10, intBits(t))
		if err != nil {
			return bad(err)
		}
		return Value{typ: t, num: n}, nil
	case TypeFloat32:
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return bad(err)
		}
		return NewFloat32(float32(f)), nil
	case TypeFloat64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return bad(err)
		}
		return NewFloat64(f), nil
	case TypeOctetString:
		b, err := hex.DecodeString(strings.Join(strings.Fields(s), ""))
		if err != nil {
			return bad(err)
		}
		return NewOctetString(b), nil
	case TypeVisibleString:
		return NewVisibleString(s), nil
	case TypeBitString:
		v, err := NewBitString(s)
		if err != nil {
			return bad(err)
		}
		return v, nil
	case TypeDate, TypeTime, TypeDateTime:
		d, err := ParseDateTime(s)
		if err != nil {
			return Value{}, err
		}
		switch t {
		case TypeDate:
			return NewDate(d), nil
		case TypeTime:
			return NewTime(d), nil
		}
		return NewDateTime(d), nil
	case TypeNone:
		return bad(fmt.Errorf("none carries no text"))
	case TypeArray, TypeStructure:
		return bad(fmt.Errorf("containers have no scalar text"))
	}
	return Value{}, fmt.Errorf("%w: 0x%02X", ErrUnknownType, uint8(t))
}

func intBits(t DataType) int {
	switch t {
	case TypeInt8, TypeUInt8, TypeEnum:
		return 8
	case TypeInt16, TypeUInt16:
		return 16
	case TypeInt32, TypeUInt32:
		return 32
	}
	return 64
}
