package cosem

import "cosem-go/internal/dlms"

// Data (class 1) holds a single value of any type.
type Data struct {
	*Base
}

func dataLayout(uint8) Schema {
	return Schema{
		Attributes: []AttributeSchema{
			{Name: "value", Type: dlms.TypeNone, Mode: Dynamic, Access: AccessReadWrite},
		},
	}
}

// NewData creates an unnamed Data object.
func NewData(version uint8) *Data {
	return &Data{Base: NewBase(TypeData, uint16(TypeData), version, dataLayout)}
}

// Value returns attribute 2.
func (d *Data) Value() dlms.Value { return d.value(2) }
