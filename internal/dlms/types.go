package dlms

import (
	"fmt"
	"strconv"
	"strings"
)

// DataType is the one-byte tag identifying the kind of an encoded value.
type DataType uint8

// DLMS data type tags
const (
	TypeNone          DataType = 0
	TypeArray         DataType = 1
	TypeStructure     DataType = 2
	TypeBoolean       DataType = 3
	TypeBitString     DataType = 4
	TypeInt32         DataType = 5
	TypeUInt32        DataType = 6
	TypeOctetString   DataType = 9
	TypeVisibleString DataType = 10
	TypeInt8          DataType = 15
	TypeInt16         DataType = 16
	TypeUInt8         DataType = 17
	TypeUInt16        DataType = 18
	TypeInt64         DataType = 20
	TypeUInt64        DataType = 21
	TypeEnum          DataType = 22
	TypeFloat32       DataType = 23
	TypeFloat64       DataType = 24
	TypeDateTime      DataType = 25
	TypeDate          DataType = 26
	TypeTime          DataType = 27

	// TypeAuto is never written on the wire. Passed to Decode it means
	// "read the tag byte first".
	TypeAuto DataType = 0xFF
)

// Fixed payload widths of the date/time layouts.
const (
	dateSize     = 5
	timeSize     = 4
	dateTimeSize = 12
)

// TypeSize returns the fixed payload size in bytes of a type, or -1 for counted types.
func TypeSize(t DataType) int {
	switch t {
	case TypeNone:
		return 0
	case TypeBoolean, TypeInt8, TypeUInt8, TypeEnum:
		return 1
	case TypeInt16, TypeUInt16:
		return 2
	case TypeInt32, TypeUInt32, TypeFloat32:
		return 4
	case TypeInt64, TypeUInt64, TypeFloat64:
		return 8
	case TypeDate:
		return dateSize
	case TypeTime:
		return timeSize
	case TypeDateTime:
		return dateTimeSize
	default:
		return -1
	}
}

var typeNames = map[DataType]string{
	TypeNone:          "none",
	TypeArray:         "array",
	TypeStructure:     "structure",
	TypeBoolean:       "bool",
	TypeBitString:     "bitstring",
	TypeInt32:         "int32",
	TypeUInt32:        "uint32",
	TypeOctetString:   "octstr",
	TypeVisibleString: "string",
	TypeInt8:          "int8",
	TypeInt16:         "int16",
	TypeUInt8:         "uint8",
	TypeUInt16:        "uint16",
	TypeInt64:         "int64",
	TypeUInt64:        "uint64",
	TypeEnum:          "enum",
	TypeFloat32:       "float32",
	TypeFloat64:       "float64",
	TypeDateTime:      "datetime",
	TypeDate:          "date",
	TypeTime:          "time",
}

// TypeName returns a human-readable name for a data type.
func TypeName(t DataType) string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", uint8(t))
}

func (t DataType) String() string { return TypeName(t) }

// Known reports whether t is part of the supported tag vocabulary.
func (t DataType) Known() bool {
	_, ok := typeNames[t]
	return ok
}

// IsContainer reports whether t is Array or Structure.
func (t DataType) IsContainer() bool {
	return t == TypeArray || t == TypeStructure
}

// ParseTypeName is the inverse of TypeName. Numeric tags ("9", "0x09") are accepted too.
func ParseTypeName(s string) (DataType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range typeNames {
		if name == s {
			return t, nil
		}
	}
	if n, err := strconv.ParseUint(s, 0, 8); err == nil {
		if t := DataType(n); t.Known() {
			return t, nil
		}
	}
	return TypeNone, fmt.Errorf("%w: %q", ErrUnknownType, s)
}
