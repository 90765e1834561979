package cosem

// Generic stands in for classes with no implementation. Only the logical
// name is accessible; the class id and version are kept so the object can
// be written back unchanged.
type Generic struct {
	*Base
}

func genericLayout(uint8) Schema { return Schema{} }

// NewGeneric creates an unnamed generic object.
func NewGeneric(t ObjectType, classID uint16, version uint8) *Generic {
	return &Generic{Base: NewBase(t, classID, version, genericLayout)}
}
