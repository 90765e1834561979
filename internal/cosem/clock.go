package cosem

import (
	"fmt"
	"time"

	"cosem-go/internal/dlms"
)

// Clock (class 8) holds the meter time and daylight-saving settings.
type Clock struct {
	*Base
}

const (
	clockTime = 2

	clockAdjustToQuarter         = 1
	clockAdjustToMeasuringPeriod = 2
	clockAdjustToMinute          = 3
	clockAdjustToPresetTime      = 4
	clockPresetAdjustingTime     = 5
	clockShiftTime               = 6
	maxShiftSeconds              = 900
)

func clockLayout(uint8) Schema {
	return Schema{
		Attributes: []AttributeSchema{
			{Name: "time", Type: dlms.TypeOctetString, Display: dlms.TypeDateTime, Mode: Dynamic, Access: AccessReadWrite},
			{Name: "time_zone", Type: dlms.TypeInt16, Mode: ReadOnceStatic, Access: AccessReadWrite},
			{Name: "status", Type: dlms.TypeUInt8, Mode: Dynamic, Access: AccessRead},
			{Name: "daylight_savings_begin", Type: dlms.TypeOctetString, Display: dlms.TypeDateTime, Mode: ReadOnceStatic, Access: AccessReadWrite},
			{Name: "daylight_savings_end", Type: dlms.TypeOctetString, Display: dlms.TypeDateTime, Mode: ReadOnceStatic, Access: AccessReadWrite},
			{Name: "daylight_savings_deviation", Type: dlms.TypeInt8, Mode: ReadOnceStatic, Access: AccessReadWrite},
			{Name: "daylight_savings_enabled", Type: dlms.TypeBoolean, Mode: ReadOnceStatic, Access: AccessReadWrite},
			{Name: "clock_base", Type: dlms.TypeEnum, Mode: ReadOnceStatic, Access: AccessRead},
		},
		Methods: []MethodSchema{
			{Name: "adjust_to_quarter"},
			{Name: "adjust_to_measuring_period"},
			{Name: "adjust_to_minute"},
			{Name: "adjust_to_preset_time"},
			{Name: "preset_adjusting_time"},
			{Name: "shift_time"},
		},
	}
}

// NewClock creates an unnamed Clock.
func NewClock(version uint8) *Clock {
	return &Clock{Base: NewBase(TypeClock, uint16(TypeClock), version, clockLayout)}
}

// Time returns attribute 2 as a DateTime; false while unset.
func (c *Clock) Time() (dlms.DateTime, bool) {
	return c.value(clockTime).DateTime()
}

// Invoke implements adjust_to_quarter, adjust_to_minute and shift_time.
// The adjustment applies to the stored time, or to the session clock when
// no time has been read yet.
func (c *Clock) Invoke(s *Settings, index int, params dlms.Value) (dlms.Value, error) {
	if err := c.CheckMethod(index); err != nil {
		return dlms.Value{}, err
	}
	switch index {
	case clockAdjustToQuarter:
		return dlms.NewNone(), c.adjust(s, func(t time.Time) time.Time { return roundLocal(t, 15*time.Minute) })
	case clockAdjustToMinute:
		return dlms.NewNone(), c.adjust(s, func(t time.Time) time.Time { return roundLocal(t, time.Minute) })
	case clockShiftTime:
		n, ok := params.Int()
		if !ok || params.Type() != dlms.TypeInt16 {
			return dlms.Value{}, fmt.Errorf("%w: shift_time wants int16 seconds, got %s", dlms.ErrTypeMismatch, params.Type())
		}
		if n < -maxShiftSeconds || n > maxShiftSeconds {
			return dlms.Value{}, fmt.Errorf("%w: shift of %d s outside ±%d", dlms.ErrReadWriteDenied, n, maxShiftSeconds)
		}
		return dlms.NewNone(), c.adjust(s, func(t time.Time) time.Time { return t.Add(time.Duration(n) * time.Second) })
	}
	return dlms.Value{}, fmt.Errorf("%w: clock method %d not supported", dlms.ErrReadWriteDenied, index)
}

// roundLocal rounds t to a multiple of d in its own wall-clock time.
func roundLocal(t time.Time, d time.Duration) time.Time {
	_, offset := t.Zone()
	shift := time.Duration(offset) * time.Second
	return t.Add(shift).Round(d).Add(-shift)
}

func (c *Clock) adjust(s *Settings, fn func(time.Time) time.Time) error {
	current, ok := c.Time()
	var t time.Time
	if ok {
		var err error
		if t, err = current.Time(); err != nil {
			return err
		}
	} else {
		t = s.now()
	}
	next := dlms.FromTime(fn(t))
	if ok {
		next.Status = current.Status
		next.Skip |= current.Skip & (dlms.SkipStatus | dlms.SkipDeviation)
	}
	c.store(clockTime, dlms.NewDateTime(next))
	return nil
}
