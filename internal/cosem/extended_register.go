package cosem

import (
	"cosem-go/internal/dlms"
)

// ExtendedRegister (class 4) adds a status and the time the value was captured.
type ExtendedRegister struct {
	*Base
}

const (
	extendedStatus      = 4
	extendedCaptureTime = 5
)

func extendedRegisterLayout(uint8) Schema {
	return Schema{
		Attributes: append(registerAttributes(),
			AttributeSchema{Name: "status", Type: dlms.TypeNone, Mode: Dynamic, Access: AccessRead},
			AttributeSchema{Name: "capture_time", Type: dlms.TypeOctetString, Display: dlms.TypeDateTime, Mode: Dynamic, Access: AccessRead},
		),
		Methods: []MethodSchema{{Name: "reset"}},
	}
}

// NewExtendedRegister creates an unnamed ExtendedRegister.
func NewExtendedRegister(version uint8) *ExtendedRegister {
	return &ExtendedRegister{Base: NewBase(TypeExtendedRegister, uint16(TypeExtendedRegister), version, extendedRegisterLayout)}
}

func (r *ExtendedRegister) SetValue(s *Settings, index int, v dlms.Value) error {
	if index == registerScalerUnit && !v.IsNone() {
		if _, err := ParseScalerUnit(v); err != nil {
			return err
		}
	}
	return r.Base.SetValue(s, index, v)
}

// Invoke implements reset: the value is zeroed, the status cleared and the
// capture time set to the session clock.
func (r *ExtendedRegister) Invoke(s *Settings, index int, _ dlms.Value) (dlms.Value, error) {
	if err := r.CheckMethod(index); err != nil {
		return dlms.Value{}, err
	}
	r.store(registerValue, zeroOf(r.value(registerValue)))
	r.store(extendedStatus, dlms.NewNone())
	r.store(extendedCaptureTime, dlms.NewDateTime(dlms.FromTime(s.now())))
	return dlms.NewNone(), nil
}

// Scaled returns value * 10^scaler and the unit.
func (r *ExtendedRegister) Scaled() (float64, Unit, error) {
	return scaled(r.value(registerValue), r.value(registerScalerUnit))
}

// CaptureTime returns attribute 5; false while unset.
func (r *ExtendedRegister) CaptureTime() (dlms.DateTime, bool) {
	return r.value(extendedCaptureTime).DateTime()
}
