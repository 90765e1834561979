package cosem

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cosem-go/internal/dlms"
)

// LogicalName is the six-byte OBIS-style object name, written "A.B.C.D.E.F".
type LogicalName [6]byte

// ParseLogicalName parses the dotted form. Exactly six decimal components in
// 0..255 are required.
func ParseLogicalName(s string) (LogicalName, error) {
	var ln LogicalName
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != len(ln) {
		return ln, fmt.Errorf("%w: logical name %q: want 6 components, got %d", dlms.ErrTypeMismatch, s, len(parts))
	}
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return LogicalName{}, fmt.Errorf("%w: logical name %q: component %d: %v", dlms.ErrTypeMismatch, s, i+1, err)
		}
		ln[i] = byte(n)
	}
	return ln, nil
}

// MustLogicalName is ParseLogicalName for constants; it panics on malformed input.
func MustLogicalName(s string) LogicalName {
	ln, err := ParseLogicalName(s)
	if err != nil {
		panic(err)
	}
	return ln
}

// LogicalNameFromBytes converts the 6-byte wire form.
func LogicalNameFromBytes(b []byte) (LogicalName, error) {
	var ln LogicalName
	if len(b) != len(ln) {
		return ln, fmt.Errorf("%w: logical name must be 6 bytes, got %d", dlms.ErrTypeMismatch, len(b))
	}
	copy(ln[:], b)
	return ln, nil
}

func (ln LogicalName) String() string {
	return fmt.Sprintf("%d.%d.%d.%d.%d.%d", ln[0], ln[1], ln[2], ln[3], ln[4], ln[5])
}

// Bytes returns the wire form.
func (ln LogicalName) Bytes() []byte { return append([]byte{}, ln[:]...) }

// ObjectType is the interface class tag of an object.
type ObjectType uint16

const (
	TypeNone                   ObjectType = 0
	TypeData                   ObjectType = 1
	TypeRegister               ObjectType = 3
	TypeExtendedRegister       ObjectType = 4
	TypeDemandRegister         ObjectType = 5
	TypeRegisterActivation     ObjectType = 6
	TypeProfileGeneric         ObjectType = 7
	TypeClock                  ObjectType = 8
	TypeScriptTable            ObjectType = 9
	TypeSchedule               ObjectType = 10
	TypeSpecialDaysTable       ObjectType = 11
	TypeAssociationShortName   ObjectType = 12
	TypeAssociationLogicalName ObjectType = 15
	TypeSapAssignment          ObjectType = 17
	TypeImageTransfer          ObjectType = 18
	TypeActivityCalendar       ObjectType = 20
	TypeRegisterMonitor        ObjectType = 21
	TypeSingleActionSchedule   ObjectType = 22
	TypeIecHdlcSetup           ObjectType = 23
	TypePushSetup              ObjectType = 40
	TypeSecuritySetup          ObjectType = 64
	TypeDisconnectControl      ObjectType = 70
	TypeLimiter                ObjectType = 71
	TypeMBusClient             ObjectType = 72
)

// genericElement names objects whose type has no registered name.
const genericElement = "Object"

var typeNames = map[ObjectType]string{
	TypeData:                   "Data",
	TypeRegister:               "Register",
	TypeExtendedRegister:       "ExtendedRegister",
	TypeDemandRegister:         "DemandRegister",
	TypeRegisterActivation:     "RegisterActivation",
	TypeProfileGeneric:         "ProfileGeneric",
	TypeClock:                  "Clock",
	TypeScriptTable:            "ScriptTable",
	TypeSchedule:               "Schedule",
	TypeSpecialDaysTable:       "SpecialDaysTable",
	TypeAssociationShortName:   "AssociationShortName",
	TypeAssociationLogicalName: "AssociationLogicalName",
	TypeSapAssignment:          "SapAssignment",
	TypeImageTransfer:          "ImageTransfer",
	TypeActivityCalendar:       "ActivityCalendar",
	TypeRegisterMonitor:        "RegisterMonitor",
	TypeSingleActionSchedule:   "SingleActionSchedule",
	TypeIecHdlcSetup:           "IecHdlcSetup",
	TypePushSetup:              "PushSetup",
	TypeSecuritySetup:          "SecuritySetup",
	TypeDisconnectControl:      "DisconnectControl",
	TypeLimiter:                "Limiter",
	TypeMBusClient:             "MBusClient",
}

// String returns the element name used in documents. Types without a name
// (None, manufacturer classes) render as "Object".
func (t ObjectType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return genericElement
}

// Named reports whether t has a registered name.
func (t ObjectType) Named() bool {
	_, ok := typeNames[t]
	return ok
}

// ParseObjectType resolves an element name. "Object" and unknown names yield TypeNone, false.
func ParseObjectType(name string) (ObjectType, bool) {
	for t, n := range typeNames {
		if n == name {
			return t, true
		}
	}
	return TypeNone, false
}

// ErrAlreadyNegotiated is returned when version/short name are updated twice.
var ErrAlreadyNegotiated = errors.New("cosem: identity already negotiated")

// Identity is a snapshot of an object's identifying fields.
type Identity struct {
	LogicalName    LogicalName
	HasLogicalName bool
	ShortName      uint16
	Type           ObjectType
	ClassID        uint16
	Version        uint8
	Description    string
}

// Key returns the collection key "<class>/<logical name>".
func (id Identity) Key() string {
	return strconv.Itoa(int(id.ClassID)) + "/" + id.LogicalName.String()
}
