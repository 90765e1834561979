package cosem

import (
	"fmt"
	"math"

	"cosem-go/internal/dlms"
)

// Unit is the physical unit enumeration of scaler_unit.
type Unit uint8

const (
	UnitYear       Unit = 1
	UnitMonth      Unit = 2
	UnitWeek       Unit = 3
	UnitDay        Unit = 4
	UnitHour       Unit = 5
	UnitMinute     Unit = 6
	UnitSecond     Unit = 7
	UnitDegree     Unit = 8
	UnitCelsius    Unit = 9
	UnitCurrency   Unit = 10
	UnitMetre      Unit = 11
	UnitCubicMetre Unit = 13
	UnitWatt       Unit = 27
	UnitVoltAmpere Unit = 28
	UnitVar        Unit = 29
	UnitWattHour   Unit = 30
	UnitVarHour    Unit = 32
	UnitAmpere     Unit = 33
	UnitVolt       Unit = 35
	UnitHertz      Unit = 44
	UnitNone       Unit = 255
)

var unitSymbols = map[Unit]string{
	UnitYear:       "a",
	UnitMonth:      "mo",
	UnitWeek:       "wk",
	UnitDay:        "d",
	UnitHour:       "h",
	UnitMinute:     "min",
	UnitSecond:     "s",
	UnitDegree:     "°",
	UnitCelsius:    "°C",
	UnitCurrency:   "currency",
	UnitMetre:      "m",
	UnitCubicMetre: "m³",
	UnitWatt:       "W",
	UnitVoltAmpere: "VA",
	UnitVar:        "var",
	UnitWattHour:   "Wh",
	UnitVarHour:    "varh",
	UnitAmpere:     "A",
	UnitVolt:       "V",
	UnitHertz:      "Hz",
	UnitNone:       "",
}

func (u Unit) String() string {
	if s, ok := unitSymbols[u]; ok {
		return s
	}
	return fmt.Sprintf("unit(%d)", uint8(u))
}

// ScalerUnit is the decoded scaler_unit structure {int8 scaler, enum unit}.
type ScalerUnit struct {
	Scaler int8
	Unit   Unit
}

// Value encodes the structure.
func (su ScalerUnit) Value() dlms.Value {
	return dlms.NewStructure(dlms.NewInt8(su.Scaler), dlms.NewEnum(uint8(su.Unit)))
}

// Apply scales a raw number.
func (su ScalerUnit) Apply(raw float64) float64 {
	return raw * math.Pow10(int(su.Scaler))
}

// ParseScalerUnit checks the structure shape and decodes it.
func ParseScalerUnit(v dlms.Value) (ScalerUnit, error) {
	items, ok := v.Items()
	if !ok || v.Type() != dlms.TypeStructure || len(items) != 2 {
		return ScalerUnit{}, fmt.Errorf("%w: scaler_unit must be a 2-item structure", dlms.ErrTypeMismatch)
	}
	scaler, ok := items[0].Int()
	if !ok || items[0].Type() != dlms.TypeInt8 {
		return ScalerUnit{}, fmt.Errorf("%w: scaler must be int8, got %s", dlms.ErrTypeMismatch, items[0].Type())
	}
	unit, ok := items[1].Uint()
	if !ok || items[1].Type() != dlms.TypeEnum {
		return ScalerUnit{}, fmt.Errorf("%w: unit must be enum, got %s", dlms.ErrTypeMismatch, items[1].Type())
	}
	return ScalerUnit{Scaler: int8(scaler), Unit: Unit(unit)}, nil
}

// Register (class 3) is a value with a scaler and unit.
type Register struct {
	*Base
}

const (
	registerValue      = 2
	registerScalerUnit = 3
	registerReset      = 1
)

func registerAttributes() []AttributeSchema {
	return []AttributeSchema{
		{Name: "value", Type: dlms.TypeNone, Mode: Dynamic, Access: AccessReadWrite},
		{Name: "scaler_unit", Type: dlms.TypeStructure, Mode: ReadOnceStatic, Access: AccessRead},
	}
}

func registerLayout(uint8) Schema {
	return Schema{
		Attributes: registerAttributes(),
		Methods:    []MethodSchema{{Name: "reset"}},
	}
}

// NewRegister creates an unnamed Register.
func NewRegister(version uint8) *Register {
	return &Register{Base: NewBase(TypeRegister, uint16(TypeRegister), version, registerLayout)}
}

func (r *Register) SetValue(s *Settings, index int, v dlms.Value) error {
	if index == registerScalerUnit && !v.IsNone() {
		if _, err := ParseScalerUnit(v); err != nil {
			return err
		}
	}
	return r.Base.SetValue(s, index, v)
}

func (r *Register) Invoke(s *Settings, index int, params dlms.Value) (dlms.Value, error) {
	if err := r.CheckMethod(index); err != nil {
		return dlms.Value{}, err
	}
	r.reset()
	return dlms.NewNone(), nil
}

// reset sets the value to zero of its current type.
func (r *Register) reset() {
	r.store(registerValue, zeroOf(r.value(registerValue)))
}

// ScalerUnit returns the decoded scaler_unit; false while unread.
func (r *Register) ScalerUnit() (ScalerUnit, bool) {
	su, err := ParseScalerUnit(r.value(registerScalerUnit))
	return su, err == nil
}

// Scaled returns value * 10^scaler and the unit. It needs both attributes.
func (r *Register) Scaled() (float64, Unit, error) {
	return scaled(r.value(registerValue), r.value(registerScalerUnit))
}

func scaled(value, scalerUnit dlms.Value) (float64, Unit, error) {
	su, err := ParseScalerUnit(scalerUnit)
	if err != nil {
		return 0, 0, err
	}
	n, ok := value.Number()
	if !ok {
		return 0, 0, fmt.Errorf("%w: value %s is not numeric", dlms.ErrTypeMismatch, value.Type())
	}
	return su.Apply(n), su.Unit, nil
}

// zeroOf returns the zero value of v's numeric type, or none.
func zeroOf(v dlms.Value) dlms.Value {
	switch v.Type() {
	case dlms.TypeInt8:
		return dlms.NewInt8(0)
	case dlms.TypeInt16:
		return dlms.NewInt16(0)
	case dlms.TypeInt32:
		return dlms.NewInt32(0)
	case dlms.TypeInt64:
		return dlms.NewInt64(0)
	case dlms.TypeUInt8:
		return dlms.NewUInt8(0)
	case dlms.TypeUInt16:
		return dlms.NewUInt16(0)
	case dlms.TypeUInt32:
		return dlms.NewUInt32(0)
	case dlms.TypeUInt64:
		return dlms.NewUInt64(0)
	case dlms.TypeFloat32:
		return dlms.NewFloat32(0)
	case dlms.TypeFloat64:
		return dlms.NewFloat64(0)
	}
	return dlms.NewNone()
}
