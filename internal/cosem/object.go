package cosem

import (
	"fmt"
	"sync"

	"cosem-go/internal/dlms"
)

// Object is the contract every interface class implements.
//
// Attribute indices run 1..AttributeCount(); index 1 is always the logical
// name. Method indices run 1..MethodCount(). An index outside those ranges
// yields dlms.ErrInvalidIndex; an index in range that the class does not
// support for the operation yields dlms.ErrReadWriteDenied.
type Object interface {
	Identity() Identity
	// Negotiate updates version and short name once, after construction.
	Negotiate(version uint8, shortName uint16) error
	SetDescription(desc string)

	AttributeCount() int
	MethodCount() int
	Schema() Schema
	// DataType returns the wire type of index. CHOICE attributes report the
	// type of their current value.
	DataType(index int) (dlms.DataType, error)
	Descriptor(index int) (AttributeDescriptor, error)

	Tracker() *Tracker
	HasLogicalName() bool
	AttributesToRead(includeAll bool) []int

	GetValue(s *Settings, index int) (dlms.Value, error)
	SetValue(s *Settings, index int, v dlms.Value) error
	Invoke(s *Settings, index int, params dlms.Value) (dlms.Value, error)
}

// Base implements the parts of Object shared by all classes: identity,
// logical-name handling, schema-checked value storage and read-state.
// Concrete classes embed *Base and override what they specialise.
type Base struct {
	mu         sync.RWMutex
	id         Identity
	negotiated bool
	layout     Layout
	schema     Schema
	values     []dlms.Value
	tracker    *Tracker
}

// NewBase creates an unnamed object of the given class.
func NewBase(t ObjectType, classID uint16, version uint8, layout Layout) *Base {
	b := &Base{
		id:     Identity{Type: t, ClassID: classID, Version: version},
		layout: layout,
	}
	b.applyLayout(version)
	return b
}

func (b *Base) applyLayout(version uint8) {
	s := b.layout(version)
	s.Attributes = withLogicalName(s.Attributes...)
	values := make([]dlms.Value, len(s.Attributes))
	copy(values, b.values)
	b.schema = s
	b.values = values
	modes, access := s.modes()
	if b.tracker == nil {
		b.tracker = NewTracker(modes, access)
	} else {
		b.tracker.Resize(modes, access)
	}
}

func (b *Base) Identity() Identity {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.id
}

func (b *Base) Negotiate(version uint8, shortName uint16) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.negotiated {
		return ErrAlreadyNegotiated
	}
	b.negotiated = true
	b.id.ShortName = shortName
	if version != b.id.Version {
		b.id.Version = version
		b.applyLayout(version)
	}
	return nil
}

func (b *Base) SetDescription(desc string) {
	b.mu.Lock()
	b.id.Description = desc
	b.mu.Unlock()
}

func (b *Base) AttributeCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.schema.Attributes)
}

func (b *Base) MethodCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.schema.Methods)
}

func (b *Base) Schema() Schema {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Schema{
		Attributes: append([]AttributeSchema{}, b.schema.Attributes...),
		Methods:    append([]MethodSchema{}, b.schema.Methods...),
	}
}

func (b *Base) checkAttribute(index int) error {
	if index < 1 || index > len(b.schema.Attributes) {
		return fmt.Errorf("%w: attribute %d outside 1..%d", dlms.ErrInvalidIndex, index, len(b.schema.Attributes))
	}
	return nil
}

// CheckMethod validates a method index.
func (b *Base) CheckMethod(index int) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if index < 1 || index > len(b.schema.Methods) {
		return fmt.Errorf("%w: method %d outside 1..%d", dlms.ErrInvalidIndex, index, len(b.schema.Methods))
	}
	return nil
}

func (b *Base) DataType(index int) (dlms.DataType, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkAttribute(index); err != nil {
		return dlms.TypeNone, err
	}
	if t := b.schema.Attributes[index-1].Type; t != dlms.TypeNone {
		return t, nil
	}
	return b.values[index-1].Type(), nil
}

func (b *Base) Descriptor(index int) (AttributeDescriptor, error) {
	wire, err := b.DataType(index)
	if err != nil {
		return AttributeDescriptor{}, err
	}
	b.mu.RLock()
	a := b.schema.Attributes[index-1]
	b.mu.RUnlock()
	state, _ := b.tracker.State(index)
	return AttributeDescriptor{
		Index:   index,
		Name:    a.Name,
		Type:    wire,
		Display: a.Display,
		Mode:    a.Mode,
		Access:  a.Access,
		State:   state,
	}, nil
}

func (b *Base) Tracker() *Tracker { return b.tracker }

func (b *Base) HasLogicalName() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.id.HasLogicalName
}

func (b *Base) AttributesToRead(includeAll bool) []int {
	return b.tracker.AttributesToRead(includeAll, b.HasLogicalName())
}

// SetLogicalName names the object. A name, once set, cannot change.
func (b *Base) SetLogicalName(ln LogicalName) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.id.HasLogicalName && b.id.LogicalName != ln {
		return fmt.Errorf("%w: logical name already %s", dlms.ErrReadWriteDenied, b.id.LogicalName)
	}
	b.id.LogicalName = ln
	b.id.HasLogicalName = true
	return nil
}

func (b *Base) setLogicalNameValue(v dlms.Value) error {
	var (
		ln  LogicalName
		err error
	)
	switch v.Type() {
	case dlms.TypeOctetString:
		raw, _ := v.Bytes()
		ln, err = LogicalNameFromBytes(raw)
	case dlms.TypeVisibleString:
		s, _ := v.Str()
		ln, err = ParseLogicalName(s)
	default:
		err = fmt.Errorf("%w: logical name must be an octet string, got %s", dlms.ErrTypeMismatch, v.Type())
	}
	if err != nil {
		return err
	}
	return b.SetLogicalName(ln)
}

// GetValue returns the stored value of index. The logical name is returned
// as a 6-byte octet string, or none while unset.
func (b *Base) GetValue(_ *Settings, index int) (dlms.Value, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkAttribute(index); err != nil {
		return dlms.Value{}, err
	}
	if index == 1 {
		if !b.id.HasLogicalName {
			return dlms.NewNone(), nil
		}
		return dlms.NewOctetString(b.id.LogicalName[:]), nil
	}
	return b.values[index-1], nil
}

// SetValue validates v against the attribute schema and stores it.
// A wire-typed value is converted to the attribute's display type.
func (b *Base) SetValue(_ *Settings, index int, v dlms.Value) error {
	// Attribute 1 exists in every layout.
	if index == 1 {
		return b.setLogicalNameValue(v)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkAttribute(index); err != nil {
		return err
	}
	a := b.schema.Attributes[index-1]
	stored, err := Coerce(a, v)
	if err != nil {
		return fmt.Errorf("attribute %d (%s): %w", index, a.Name, err)
	}
	b.values[index-1] = stored
	return nil
}

// Invoke rejects every method; classes with behaviour override it.
func (b *Base) Invoke(_ *Settings, index int, _ dlms.Value) (dlms.Value, error) {
	if err := b.CheckMethod(index); err != nil {
		return dlms.Value{}, err
	}
	return dlms.Value{}, fmt.Errorf("%w: method %d not supported", dlms.ErrReadWriteDenied, index)
}

// Coerce checks v against attribute a and returns the value to store.
// None always clears. CHOICE attributes accept any type.
func Coerce(a AttributeSchema, v dlms.Value) (dlms.Value, error) {
	switch {
	case v.IsNone(), a.Type == dlms.TypeNone:
		return v, nil
	case v.Type() == a.DisplayType():
		return v, nil
	case v.Type() == a.Type:
		return dlms.ConvertType(v, a.DisplayType())
	}
	return dlms.Value{}, fmt.Errorf("%w: got %s, want %s", dlms.ErrTypeMismatch, v.Type(), a.DisplayType())
}

// store sets a value without schema checks, for class methods.
func (b *Base) store(index int, v dlms.Value) {
	b.mu.Lock()
	b.values[index-1] = v
	b.mu.Unlock()
}

// value reads a stored value without index checks.
func (b *Base) value(index int) dlms.Value {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.values[index-1]
}
