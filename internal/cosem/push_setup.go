package cosem

import (
	"fmt"

	"cosem-go/internal/dlms"
)

// PushSetup (class 40) configures what is pushed, where and when.
// Version 2 adds the port reference, SAP, protection and confirmation
// attributes and turns repetition_delay into a structure.
type PushSetup struct {
	*Base
}

const (
	pushObjectList = 2
	pushMethodPush = 1
)

func pushSetupLayout(version uint8) Schema {
	attrs := []AttributeSchema{
		{Name: "push_object_list", Type: dlms.TypeArray, Mode: ReadOnceStatic, Access: AccessReadWrite},
		{Name: "send_destination_and_method", Type: dlms.TypeStructure, Mode: ReadOnceStatic, Access: AccessReadWrite},
		{Name: "communication_window", Type: dlms.TypeArray, Mode: ReadOnceStatic, Access: AccessReadWrite},
		{Name: "randomisation_start_interval", Type: dlms.TypeUInt16, Mode: ReadOnceStatic, Access: AccessReadWrite},
		{Name: "number_of_retries", Type: dlms.TypeUInt8, Mode: ReadOnceStatic, Access: AccessReadWrite},
	}
	if version < 2 {
		attrs = append(attrs,
			AttributeSchema{Name: "repetition_delay", Type: dlms.TypeUInt16, Mode: ReadOnceStatic, Access: AccessReadWrite},
		)
	} else {
		attrs = append(attrs,
			AttributeSchema{Name: "repetition_delay", Type: dlms.TypeStructure, Mode: ReadOnceStatic, Access: AccessReadWrite},
			AttributeSchema{Name: "port_reference", Type: dlms.TypeOctetString, Mode: ReadOnceStatic, Access: AccessReadWrite},
			AttributeSchema{Name: "push_client_sap", Type: dlms.TypeInt8, Mode: ReadOnceStatic, Access: AccessReadWrite},
			AttributeSchema{Name: "push_protection_parameters", Type: dlms.TypeArray, Mode: ReadOnceStatic, Access: AccessReadWrite},
			AttributeSchema{Name: "push_operation_method", Type: dlms.TypeEnum, Mode: ReadOnceStatic, Access: AccessReadWrite},
			AttributeSchema{Name: "confirmation_parameters", Type: dlms.TypeStructure, Mode: ReadOnceStatic, Access: AccessReadWrite},
			AttributeSchema{Name: "last_confirmation_date_time", Type: dlms.TypeOctetString, Display: dlms.TypeDateTime, Mode: Dynamic, Access: AccessRead},
		)
	}
	return Schema{Attributes: attrs, Methods: []MethodSchema{{Name: "push"}}}
}

// NewPushSetup creates an unnamed PushSetup.
func NewPushSetup(version uint8) *PushSetup {
	return &PushSetup{Base: NewBase(TypePushSetup, uint16(TypePushSetup), version, pushSetupLayout)}
}

// PushObject is one entry of push_object_list.
type PushObject struct {
	Type           ObjectType
	LogicalName    LogicalName
	AttributeIndex int8
	DataIndex      uint16
}

// Value encodes the entry as {class_id, logical_name, attribute_index, data_index}.
func (p PushObject) Value() dlms.Value {
	return dlms.NewStructure(
		dlms.NewUInt16(uint16(p.Type)),
		dlms.NewOctetString(p.LogicalName[:]),
		dlms.NewInt8(p.AttributeIndex),
		dlms.NewUInt16(p.DataIndex),
	)
}

func (ps *PushSetup) SetValue(s *Settings, index int, v dlms.Value) error {
	if index == pushObjectList && !v.IsNone() {
		if _, err := parsePushObjects(v); err != nil {
			return err
		}
	}
	return ps.Base.SetValue(s, index, v)
}

// PushObjects decodes push_object_list.
func (ps *PushSetup) PushObjects() ([]PushObject, error) {
	v := ps.value(pushObjectList)
	if v.IsNone() {
		return nil, nil
	}
	return parsePushObjects(v)
}

func parsePushObjects(v dlms.Value) ([]PushObject, error) {
	items, ok := v.Items()
	if !ok || v.Type() != dlms.TypeArray {
		return nil, fmt.Errorf("%w: push_object_list must be an array", dlms.ErrTypeMismatch)
	}
	out := make([]PushObject, 0, len(items))
	for i, item := range items {
		fields, ok := item.Items()
		if !ok || len(fields) != 4 {
			return nil, fmt.Errorf("%w: push object %d must be a 4-item structure", dlms.ErrTypeMismatch, i)
		}
		classID, ok1 := fields[0].Uint()
		raw, ok2 := fields[1].Bytes()
		attr, ok3 := fields[2].Int()
		data, ok4 := fields[3].Uint()
		if !ok1 || !ok2 || !ok3 || !ok4 {
			return nil, fmt.Errorf("%w: push object %d has wrong field types", dlms.ErrTypeMismatch, i)
		}
		ln, err := LogicalNameFromBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("push object %d: %w", i, err)
		}
		out = append(out, PushObject{
			Type:           ObjectType(classID),
			LogicalName:    ln,
			AttributeIndex: int8(attr),
			DataIndex:      uint16(data),
		})
	}
	return out, nil
}

// Invoke implements push. Delivery is the transport's job; the object only
// validates the request.
func (ps *PushSetup) Invoke(s *Settings, index int, params dlms.Value) (dlms.Value, error) {
	if err := ps.CheckMethod(index); err != nil {
		return dlms.Value{}, err
	}
	if !params.IsNone() {
		if n, ok := params.Int(); !ok || n != 0 {
			return dlms.Value{}, fmt.Errorf("%w: push wants int8 0", dlms.ErrTypeMismatch)
		}
	}
	return dlms.NewNone(), nil
}
