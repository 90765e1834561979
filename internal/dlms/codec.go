package dlms

import (
	"fmt"
	"math"
)

// MaxDepth bounds Array/Structure nesting on encode and decode.
const MaxDepth = 64

// maxCountBytes is the widest length-of-length accepted for counts.
const maxCountBytes = 4

// EncodeCount appends n using the variable-length count form: 0..127 in one
// byte, otherwise 0x80|k followed by k big-endian bytes.
func EncodeCount(b *Buffer, n int) error {
	if n < 0 || uint64(n) > math.MaxUint32 {
		return fmt.Errorf("%w: count %d out of range", ErrFormat, n)
	}
	if n < 0x80 {
		b.SetUint8(uint8(n))
		return nil
	}
	k := 1
	for v := n >> 8; v > 0; v >>= 8 {
		k++
	}
	b.SetUint8(0x80 | uint8(k))
	for i := k - 1; i >= 0; i-- {
		b.SetUint8(uint8(n >> (8 * i)))
	}
	return nil
}

// DecodeCount reads a variable-length count.
func DecodeCount(b *Buffer) (int, error) {
	first, err := b.Uint8()
	if err != nil {
		return 0, err
	}
	if first&0x80 == 0 {
		return int(first), nil
	}
	k := int(first & 0x7F)
	if k == 0 || k > maxCountBytes {
		return 0, fmt.Errorf("%w: count uses %d length bytes", ErrFormat, k)
	}
	p, err := b.Next(k)
	if err != nil {
		return 0, err
	}
	var n uint64
	for _, c := range p {
		n = n<<8 | uint64(c)
	}
	return int(n), nil
}

// Encode returns the tagged wire form of v.
func Encode(v Value) ([]byte, error) {
	b := NewBuffer(nil)
	if err := EncodeTo(b, v); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// EncodeTo appends the tagged wire form of v to b.
func EncodeTo(b *Buffer, v Value) error {
	return encode(b, v, 0)
}

// EncodeAs converts v to the wire type before encoding it. A DateTime value
// on an OctetString attribute encodes as the 12-byte octet string.
func EncodeAs(v Value, wire DataType) ([]byte, error) {
	cv, err := ConvertType(v, wire)
	if err != nil {
		return nil, err
	}
	return Encode(cv)
}

func encode(b *Buffer, v Value, depth int) error {
	if !v.typ.Known() {
		return fmt.Errorf("%w: 0x%02X", ErrUnknownType, uint8(v.typ))
	}
	b.SetUint8(uint8(v.typ))
	return encodeContent(b, v, depth)
}

func encodeContent(b *Buffer, v Value, depth int) error {
	switch v.typ {
	case TypeNone:
		return nil
	case TypeBoolean, TypeInt8, TypeUInt8, TypeEnum:
		b.SetUint8(uint8(v.num))
	case TypeInt16, TypeUInt16:
		b.SetUint16(uint16(v.num))
	case TypeInt32, TypeUInt32, TypeFloat32:
		b.SetUint32(uint32(v.num))
	case TypeInt64, TypeUInt64, TypeFloat64:
		b.SetUint64(v.num)
	case TypeOctetString, TypeVisibleString:
		if err := EncodeCount(b, len(v.raw)); err != nil {
			return err
		}
		b.Append(v.raw...)
	case TypeBitString:
		if err := EncodeCount(b, len(v.raw)); err != nil {
			return err
		}
		b.Append(packBits(v.raw)...)
	case TypeArray, TypeStructure:
		if depth >= MaxDepth {
			return fmt.Errorf("%w: nesting deeper than %d", ErrFormat, MaxDepth)
		}
		if err := EncodeCount(b, len(v.items)); err != nil {
			return err
		}
		for i, it := range v.items {
			if err := encode(b, it, depth+1); err != nil {
				return fmt.Errorf("%s item %d: %w", TypeName(v.typ), i, err)
			}
		}
	case TypeDate:
		b.data = appendDate(b.data, v.dt)
	case TypeTime:
		b.data = appendTime(b.data, v.dt)
	case TypeDateTime:
		b.data = appendDateTime(b.data, v.dt)
	default:
		return fmt.Errorf("%w: 0x%02X", ErrUnknownType, uint8(v.typ))
	}
	return nil
}

// Decode decodes one value from data and returns it with the number of bytes
// consumed. With hint == TypeAuto the tag byte is read first; any other hint
// decodes untagged content of that type.
func Decode(data []byte, hint DataType) (Value, int, error) {
	b := NewBuffer(data)
	v, err := DecodeFrom(b, hint)
	if err != nil {
		return Value{}, 0, err
	}
	return v, b.Position(), nil
}

// DecodeFrom decodes one value at the cursor of b.
func DecodeFrom(b *Buffer, hint DataType) (Value, error) {
	return decode(b, hint, 0)
}

// DecodeAs decodes a tagged value and reinterprets it as display when display
// differs from the decoded type. display == TypeNone keeps the wire value.
func DecodeAs(data []byte, display DataType) (Value, int, error) {
	v, n, err := Decode(data, TypeAuto)
	if err != nil {
		return Value{}, 0, err
	}
	if display == TypeNone || display == v.typ {
		return v, n, nil
	}
	cv, err := ConvertType(v, display)
	if err != nil {
		return Value{}, 0, err
	}
	return cv, n, nil
}

func decode(b *Buffer, hint DataType, depth int) (Value, error) {
	t := hint
	if hint == TypeAuto {
		tag, err := b.Uint8()
		if err != nil {
			return Value{}, err
		}
		t = DataType(tag)
	}
	return decodeContent(b, t, depth)
}

func decodeContent(b *Buffer, t DataType, depth int) (Value, error) {
	switch t {
	case TypeNone:
		return Value{}, nil
	case TypeBoolean, TypeUInt8, TypeEnum:
		n, err := b.Uint8()
		if err != nil {
			return Value{}, err
		}
		if t == TypeBoolean && n > 1 {
			n = 1
		}
		return Value{typ: t, num: uint64(n)}, nil
	case TypeInt8:
		n, err := b.Uint8()
		return Value{typ: t, num: uint64(int64(int8(n)))}, err
	case TypeUInt16:
		n, err := b.Uint16()
		return Value{typ: t, num: uint64(n)}, err
	case TypeInt16:
		n, err := b.Uint16()
		return Value{typ: t, num: uint64(int64(int16(n)))}, err
	case TypeUInt32, TypeFloat32:
		n, err := b.Uint32()
		return Value{typ: t, num: uint64(n)}, err
	case TypeInt32:
		n, err := b.Uint32()
		return Value{typ: t, num: uint64(int64(int32(n)))}, err
	case TypeInt64, TypeUInt64, TypeFloat64:
		n, err := b.Uint64()
		return Value{typ: t, num: n}, err
	case TypeOctetString, TypeVisibleString:
		n, err := DecodeCount(b)
		if err != nil {
			return Value{}, err
		}
		p, err := b.Next(n)
		if err != nil {
			return Value{}, fmt.Errorf("%s: %w", TypeName(t), err)
		}
		return Value{typ: t, raw: append([]byte{}, p...)}, nil
	case TypeBitString:
		n, err := DecodeCount(b)
		if err != nil {
			return Value{}, err
		}
		p, err := b.Next((n + 7) / 8)
		if err != nil {
			return Value{}, fmt.Errorf("bitstring: %w", err)
		}
		return Value{typ: t, raw: unpackBits(p, n)}, nil
	case TypeArray, TypeStructure:
		if depth >= MaxDepth {
			return Value{}, fmt.Errorf("%w: nesting deeper than %d", ErrFormat, MaxDepth)
		}
		n, err := DecodeCount(b)
		if err != nil {
			return Value{}, err
		}
		// Every member takes at least its tag byte.
		if n > b.Available() {
			return Value{}, fmt.Errorf("%w: %s declares %d items, %d bytes left", ErrFormat, TypeName(t), n, b.Available())
		}
		items := make([]Value, 0, n)
		for i := 0; i < n; i++ {
			it, err := decode(b, TypeAuto, depth+1)
			if err != nil {
				return Value{}, fmt.Errorf("%s item %d: %w", TypeName(t), i, err)
			}
			items = append(items, it)
		}
		return Value{typ: t, items: items}, nil
	case TypeDate, TypeTime, TypeDateTime:
		p, err := b.Next(TypeSize(t))
		if err != nil {
			return Value{}, fmt.Errorf("%s: %w", TypeName(t), err)
		}
		switch t {
		case TypeDate:
			return Value{typ: t, dt: parseDate(p)}, nil
		case TypeTime:
			return Value{typ: t, dt: parseTime(p)}, nil
		}
		return Value{typ: t, dt: parseDateTime(p)}, nil
	}
	return Value{}, fmt.Errorf("%w: %w: tag 0x%02X", ErrFormat, ErrUnknownType, uint8(t))
}

// ConvertType reinterprets v as type to. Supported pairs are the wire/display
// pairs that share a byte representation: OctetString <-> DateTime/Date/Time
// and OctetString <-> VisibleString. None converts to None.
func ConvertType(v Value, to DataType) (Value, error) {
	if v.typ == to || v.typ == TypeNone || to == TypeNone {
		return v, nil
	}
	switch {
	case v.typ == TypeOctetString && (to == TypeDateTime || to == TypeDate || to == TypeTime):
		if len(v.raw) != TypeSize(to) {
			return Value{}, fmt.Errorf("%w: %d-byte octet string is not a %s", ErrTypeMismatch, len(v.raw), TypeName(to))
		}
		return decodeContent(NewBuffer(v.raw), to, 0)
	case v.typ == TypeOctetString && to == TypeVisibleString:
		return Value{typ: to, raw: v.raw}, nil
	case v.typ == TypeVisibleString && to == TypeOctetString:
		return Value{typ: to, raw: v.raw}, nil
	case to == TypeOctetString && (v.typ == TypeDateTime || v.typ == TypeDate || v.typ == TypeTime):
		b := NewBuffer(nil)
		if err := encodeContent(b, v, 0); err != nil {
			return Value{}, err
		}
		return Value{typ: to, raw: b.Bytes()}, nil
	}
	return Value{}, fmt.Errorf("%w: cannot convert %s to %s", ErrTypeMismatch, TypeName(v.typ), TypeName(to))
}

func packBits(digits []byte) []byte {
	out := make([]byte, (len(digits)+7)/8)
	for i, d := range digits {
		if d == '1' {
			out[i/8] |= 0x80 >> (i % 8)
		}
	}
	return out
}

func unpackBits(p []byte, n int) []byte {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		if p[i/8]&(0x80>>(i%8)) != 0 {
			out[i] = '1'
		} else {
			out[i] = '0'
		}
	}
	return out
}
