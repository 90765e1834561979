package cosem

// Custom is an object whose schema is supplied at runtime, for example by a
// definition script. Values are stored and validated like built-in classes;
// methods are declared but have no behaviour.
type Custom struct {
	*Base
	name string
}

// NewCustom creates an unnamed object with the given attribute and method
// layout. attrs excludes the logical name, which is always attribute 1.
func NewCustom(classID uint16, version uint8, name string, attrs []AttributeSchema, methods []MethodSchema) *Custom {
	attrs = append([]AttributeSchema{}, attrs...)
	methods = append([]MethodSchema{}, methods...)
	layout := func(uint8) Schema {
		return Schema{Attributes: attrs, Methods: methods}
	}
	return &Custom{
		Base: NewBase(ObjectType(classID), classID, version, layout),
		name: name,
	}
}

// ClassName returns the name the class was defined with.
func (c *Custom) ClassName() string { return c.name }
