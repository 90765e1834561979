package cosem

import (
	"time"

	"cosem-go/internal/dlms"
)

// AttributeSchema defines one attribute of an interface class.
type AttributeSchema struct {
	Name string `json:"name"`
	// Type is the wire type. TypeNone means the attribute is a CHOICE and
	// accepts any type.
	Type dlms.DataType `json:"type"`
	// Display is the type values are presented as; zero means same as Type.
	Display dlms.DataType `json:"display,omitempty"`
	Mode    ReadMode      `json:"mode"`
	Access  Access        `json:"access"`
}

// DisplayType returns the presentation type of the attribute.
func (a AttributeSchema) DisplayType() dlms.DataType {
	if a.Display != dlms.TypeNone {
		return a.Display
	}
	return a.Type
}

// MethodSchema defines one method of an interface class.
type MethodSchema struct {
	Name string `json:"name"`
}

// Schema is the attribute and method layout of one class version.
// Attributes[0] is the logical name.
type Schema struct {
	Attributes []AttributeSchema
	Methods    []MethodSchema
}

// Layout builds the schema for a class version.
type Layout func(version uint8) Schema

// logicalNameAttribute is attribute 1 of every class.
var logicalNameAttribute = AttributeSchema{
	Name:   "logical_name",
	Type:   dlms.TypeOctetString,
	Mode:   ReadOnceStatic,
	Access: AccessRead,
}

// withLogicalName prepends the logical-name attribute.
func withLogicalName(attrs ...AttributeSchema) []AttributeSchema {
	return append([]AttributeSchema{logicalNameAttribute}, attrs...)
}

// FindAttribute looks up an attribute index by name; 0 if absent.
func (s Schema) FindAttribute(name string) int {
	for i, a := range s.Attributes {
		if a.Name == name {
			return i + 1
		}
	}
	return 0
}

func (s Schema) modes() ([]ReadMode, []Access) {
	modes := make([]ReadMode, len(s.Attributes))
	access := make([]Access, len(s.Attributes))
	for i, a := range s.Attributes {
		modes[i] = a.Mode
		access[i] = a.Access
	}
	return modes, access
}

// AttributeDescriptor is the static and runtime description of one attribute.
type AttributeDescriptor struct {
	Index int
	Name  string
	Type  dlms.DataType
	// Display is zero when values are presented as the wire type.
	Display dlms.DataType
	Mode    ReadMode
	Access  Access
	State   ReadState
}

// DisplayType returns the presentation type.
func (d AttributeDescriptor) DisplayType() dlms.DataType {
	if d.Display != dlms.TypeNone {
		return d.Display
	}
	return d.Type
}

// Settings carries session parameters that some operations depend on.
// A nil *Settings is valid and means logical-name referencing and wall-clock time.
type Settings struct {
	ShortNameReferencing bool
	ClientAddress        int
	ServerAddress        int
	// Now overrides the clock used by time-dependent methods.
	Now func() time.Time
}

func (s *Settings) now() time.Time {
	if s == nil || s.Now == nil {
		return time.Now()
	}
	return s.Now()
}
