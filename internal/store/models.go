package store

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"cosem-go/internal/cosem"
	"cosem-go/internal/dlms"
)

// ObjectRecord is the stored snapshot of one object. Attribute values are
// kept in their tagged binary form.
type ObjectRecord struct {
	Type        uint16         `cbor:"1,keyasint"`
	ClassID     uint16         `cbor:"2,keyasint"`
	Version     uint8          `cbor:"3,keyasint"`
	ShortName   uint16         `cbor:"4,keyasint,omitempty"`
	LogicalName []byte         `cbor:"5,keyasint"`
	Description string         `cbor:"6,keyasint,omitempty"`
	Attributes  map[int][]byte `cbor:"7,keyasint,omitempty"`
	Read        []int          `cbor:"8,keyasint,omitempty"`
	SavedAt     time.Time      `cbor:"9,keyasint"`
}

// SessionState holds the persisted association parameters.
type SessionState struct {
	ClientAddress        int  `cbor:"1,keyasint"`
	ServerAddress        int  `cbor:"2,keyasint"`
	ShortNameReferencing bool `cbor:"3,keyasint"`
}

// Settings converts the session into object settings.
func (s *SessionState) Settings() *cosem.Settings {
	return &cosem.Settings{
		ClientAddress:        s.ClientAddress,
		ServerAddress:        s.ServerAddress,
		ShortNameReferencing: s.ShortNameReferencing,
	}
}

func objectKey(classID uint16, ln cosem.LogicalName) []byte {
	return []byte(cosem.Identity{ClassID: classID, LogicalName: ln}.Key())
}

// Snapshot captures obj. Attributes holding None are left out.
func Snapshot(obj cosem.Object) (*ObjectRecord, error) {
	id := obj.Identity()
	if !id.HasLogicalName {
		return nil, cosem.ErrNoLogicalName
	}
	rec := &ObjectRecord{
		Type:        uint16(id.Type),
		ClassID:     id.ClassID,
		Version:     id.Version,
		ShortName:   id.ShortName,
		LogicalName: id.LogicalName.Bytes(),
		Description: id.Description,
		Attributes:  make(map[int][]byte),
		Read:        obj.Tracker().ReadIndices(),
		SavedAt:     time.Now().UTC(),
	}
	for index := 2; index <= obj.AttributeCount(); index++ {
		v, err := obj.GetValue(nil, index)
		if err != nil {
			return nil, fmt.Errorf("attribute %d: %w", index, err)
		}
		if v.IsNone() {
			continue
		}
		data, err := dlms.Encode(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %d: %w", index, err)
		}
		rec.Attributes[index] = data
	}
	return rec, nil
}

// Restore rebuilds an object from rec, including its read state. Attribute
// values or read marks that no longer fit the object's class are dropped
// with a warning so one stale entry does not lose the rest of the object.
func Restore(f *cosem.Factory, rec *ObjectRecord, logger *slog.Logger) (cosem.Object, error) {
	if logger == nil {
		logger = slog.Default()
	}
	obj := f.Create(cosem.ObjectType(rec.Type), rec.ClassID, rec.Version)
	if rec.ShortName != 0 {
		if err := obj.Negotiate(rec.Version, rec.ShortName); err != nil {
			return nil, err
		}
	}
	obj.SetDescription(rec.Description)
	if err := obj.SetValue(nil, 1, dlms.NewOctetString(rec.LogicalName)); err != nil {
		return nil, fmt.Errorf("logical name: %w", err)
	}
	id := obj.Identity()

	indices := make([]int, 0, len(rec.Attributes))
	for index := range rec.Attributes {
		indices = append(indices, index)
	}
	sort.Ints(indices)
	for _, index := range indices {
		v, _, err := dlms.Decode(rec.Attributes[index], dlms.TypeAuto)
		if err == nil {
			err = obj.SetValue(nil, index, v)
		}
		if err != nil {
			logger.Warn("dropping stored attribute", "class", id.ClassID, "ln", id.LogicalName, "index", index, "err", err)
		}
	}
	for _, index := range rec.Read {
		if err := obj.Tracker().MarkRead(index); err != nil {
			logger.Warn("dropping stored read state", "class", id.ClassID, "ln", id.LogicalName, "index", index, "err", err)
		}
	}
	return obj, nil
}
