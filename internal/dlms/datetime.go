package dlms

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Skip marks date/time components that are not present on the wire.
type Skip uint16

const (
	SkipYear Skip = 1 << iota
	SkipMonth
	SkipDay
	SkipDayOfWeek
	SkipHour
	SkipMinute
	SkipSecond
	SkipHundredths
	SkipDeviation
	SkipStatus

	SkipNone Skip = 0
	SkipDate      = SkipYear | SkipMonth | SkipDay | SkipDayOfWeek
	SkipTime      = SkipHour | SkipMinute | SkipSecond | SkipHundredths
	SkipAll       = SkipDate | SkipTime | SkipDeviation | SkipStatus
)

// Wire sentinels for skipped components.
const (
	yearUnspecified      uint16 = 0xFFFF
	fieldUnspecified     uint8  = 0xFF
	deviationUnspecified int16  = -0x8000
)

// Clock status bit for daylight saving time.
const StatusDaylightSaving uint8 = 0x80

// DateTime is the date-time value used by the Date, Time and DateTime kinds.
// Components flagged in Skip are absent and hold zero.
type DateTime struct {
	Year       uint16
	Month      uint8
	Day        uint8
	DayOfWeek  uint8 // 1 = Monday .. 7 = Sunday
	Hour       uint8
	Minute     uint8
	Second     uint8
	Hundredths uint8
	Deviation  int16 // minutes of local time to UTC
	Status     uint8
	Skip       Skip
}

// NormalizeDateTime zeroes skipped components and converts sentinel component
// values into skip bits, so equal wire encodings compare equal.
func NormalizeDateTime(d DateTime) DateTime {
	u8 := func(v *uint8, bit Skip) {
		if d.Skip&bit != 0 || *v == fieldUnspecified {
			d.Skip |= bit
			*v = 0
		}
	}
	if d.Skip&SkipYear != 0 || d.Year == yearUnspecified {
		d.Skip |= SkipYear
		d.Year = 0
	}
	u8(&d.Month, SkipMonth)
	u8(&d.Day, SkipDay)
	u8(&d.DayOfWeek, SkipDayOfWeek)
	u8(&d.Hour, SkipHour)
	u8(&d.Minute, SkipMinute)
	u8(&d.Second, SkipSecond)
	u8(&d.Hundredths, SkipHundredths)
	if d.Skip&SkipDeviation != 0 || d.Deviation == deviationUnspecified {
		d.Skip |= SkipDeviation
		d.Deviation = 0
	}
	u8(&d.Status, SkipStatus)
	d.Skip &= SkipAll
	return d
}

// FromTime builds a fully specified DateTime from t.
func FromTime(t time.Time) DateTime {
	_, offset := t.Zone()
	dow := uint8(t.Weekday())
	if dow == 0 {
		dow = 7
	}
	d := DateTime{
		Year:       uint16(t.Year()),
		Month:      uint8(t.Month()),
		Day:        uint8(t.Day()),
		DayOfWeek:  dow,
		Hour:       uint8(t.Hour()),
		Minute:     uint8(t.Minute()),
		Second:     uint8(t.Second()),
		Hundredths: uint8(t.Nanosecond() / 10_000_000),
		Deviation:  int16(offset / 60),
	}
	if t.IsDST() {
		d.Status |= StatusDaylightSaving
	}
	return d
}

// Time converts d to a time.Time. Year, month, day, hour and minute must be
// present; missing seconds/hundredths read as zero and a missing deviation as UTC.
func (d DateTime) Time() (time.Time, error) {
	const required = SkipYear | SkipMonth | SkipDay | SkipHour | SkipMinute
	if d.Skip&required != 0 {
		return time.Time{}, fmt.Errorf("%w: date-time is not fully specified", ErrTypeMismatch)
	}
	loc := time.UTC
	if d.Skip&SkipDeviation == 0 && d.Deviation != 0 {
		loc = time.FixedZone("", int(d.Deviation)*60)
	}
	sec, hs := d.Second, d.Hundredths
	if d.Skip&SkipSecond != 0 {
		sec = 0
	}
	if d.Skip&SkipHundredths != 0 {
		hs = 0
	}
	return time.Date(int(d.Year), time.Month(d.Month), int(d.Day),
		int(d.Hour), int(d.Minute), int(sec), int(hs)*10_000_000, loc), nil
}

func appendDate(b []byte, d DateTime) []byte {
	year := d.Year
	if d.Skip&SkipYear != 0 {
		year = yearUnspecified
	}
	return append(b, byte(year>>8), byte(year),
		field(d.Month, d.Skip&SkipMonth),
		field(d.Day, d.Skip&SkipDay),
		field(d.DayOfWeek, d.Skip&SkipDayOfWeek))
}

func appendTime(b []byte, d DateTime) []byte {
	return append(b,
		field(d.Hour, d.Skip&SkipHour),
		field(d.Minute, d.Skip&SkipMinute),
		field(d.Second, d.Skip&SkipSecond),
		field(d.Hundredths, d.Skip&SkipHundredths))
}

func appendDateTime(b []byte, d DateTime) []byte {
	b = appendDate(b, d)
	b = appendTime(b, d)
	dev := d.Deviation
	if d.Skip&SkipDeviation != 0 {
		dev = deviationUnspecified
	}
	return append(b, byte(uint16(dev)>>8), byte(uint16(dev)), field(d.Status, d.Skip&SkipStatus))
}

func field(v uint8, skipped Skip) byte {
	if skipped != 0 {
		return fieldUnspecified
	}
	return v
}

func parseDate(b []byte) DateTime {
	return NormalizeDateTime(DateTime{
		Year:      uint16(b[0])<<8 | uint16(b[1]),
		Month:     b[2],
		Day:       b[3],
		DayOfWeek: b[4],
		Skip:      SkipTime | SkipDeviation | SkipStatus,
	})
}

func parseTime(b []byte) DateTime {
	return NormalizeDateTime(DateTime{
		Hour:       b[0],
		Minute:     b[1],
		Second:     b[2],
		Hundredths: b[3],
		Skip:       SkipDate | SkipDeviation | SkipStatus,
	})
}

func parseDateTime(b []byte) DateTime {
	return NormalizeDateTime(DateTime{
		Year:       uint16(b[0])<<8 | uint16(b[1]),
		Month:      b[2],
		Day:        b[3],
		DayOfWeek:  b[4],
		Hour:       b[5],
		Minute:     b[6],
		Second:     b[7],
		Hundredths: b[8],
		Deviation:  int16(uint16(b[9])<<8 | uint16(b[10])),
		Status:     b[11],
	})
}

// FormatDateTime renders d as "YYYY-MM-DD hh:mm:ss.cc" with "*" for skipped
// components, followed by optional "w<dow>", "d<deviation>" and "s<status>"
// tokens. Sections whose components are all skipped are left out entirely.
func FormatDateTime(d DateTime) string {
	d = NormalizeDateTime(d)
	var parts []string
	num := func(v int, width int, bit Skip) string {
		if d.Skip&bit != 0 {
			return "*"
		}
		return fmt.Sprintf("%0*d", width, v)
	}
	if d.Skip&(SkipYear|SkipMonth|SkipDay) != SkipYear|SkipMonth|SkipDay {
		parts = append(parts, num(int(d.Year), 4, SkipYear)+"-"+num(int(d.Month), 2, SkipMonth)+"-"+num(int(d.Day), 2, SkipDay))
	}
	if d.Skip&SkipTime != SkipTime {
		t := num(int(d.Hour), 2, SkipHour) + ":" + num(int(d.Minute), 2, SkipMinute) + ":" + num(int(d.Second), 2, SkipSecond)
		if d.Skip&SkipHundredths == 0 {
			t += "." + fmt.Sprintf("%02d", d.Hundredths)
		}
		parts = append(parts, t)
	}
	if d.Skip&SkipDayOfWeek == 0 {
		parts = append(parts, "w"+strconv.Itoa(int(d.DayOfWeek)))
	}
	if d.Skip&SkipDeviation == 0 {
		parts = append(parts, "d"+strconv.Itoa(int(d.Deviation)))
	}
	if d.Skip&SkipStatus == 0 {
		parts = append(parts, fmt.Sprintf("s%02X", d.Status))
	}
	return strings.Join(parts, " ")
}

// ParseDateTime parses the FormatDateTime form. Any section may be missing;
// missing components are skipped.
func ParseDateTime(s string) (DateTime, error) {
	d := DateTime{Skip: SkipAll}
	for _, tok := range strings.Fields(s) {
		var err error
		switch {
		case tok[0] == 'w':
			var v uint64
			v, err = strconv.ParseUint(tok[1:], 10, 8)
			d.DayOfWeek, d.Skip = uint8(v), d.Skip&^SkipDayOfWeek
		case tok[0] == 'd':
			var v int64
			v, err = strconv.ParseInt(tok[1:], 10, 16)
			d.Deviation, d.Skip = int16(v), d.Skip&^SkipDeviation
		case tok[0] == 's':
			var v uint64
			v, err = strconv.ParseUint(tok[1:], 16, 8)
			d.Status, d.Skip = uint8(v), d.Skip&^SkipStatus
		case strings.Contains(tok, ":"):
			err = parseTimeSection(tok, &d)
		case strings.Contains(tok, "-"):
			err = parseDateSection(tok, &d)
		default:
			err = fmt.Errorf("unexpected token %q", tok)
		}
		if err != nil {
			return DateTime{}, fmt.Errorf("%w: date-time %q: %v", ErrFormat, s, err)
		}
	}
	return NormalizeDateTime(d), nil
}

func parseDateSection(tok string, d *DateTime) error {
	f := strings.Split(tok, "-")
	if len(f) != 3 {
		return fmt.Errorf("date %q: want Y-M-D", tok)
	}
	if f[0] != "*" {
		v, err := strconv.ParseUint(f[0], 10, 16)
		if err != nil {
			return err
		}
		d.Year, d.Skip = uint16(v), d.Skip&^SkipYear
	}
	if err := parseComponent(f[1], &d.Month, SkipMonth, d); err != nil {
		return err
	}
	return parseComponent(f[2], &d.Day, SkipDay, d)
}

func parseTimeSection(tok string, d *DateTime) error {
	clock, frac, hasFrac := strings.Cut(tok, ".")
	f := strings.Split(clock, ":")
	if len(f) != 3 {
		return fmt.Errorf("time %q: want h:m:s", tok)
	}
	for i, dst := range []*uint8{&d.Hour, &d.Minute, &d.Second} {
		if err := parseComponent(f[i], dst, []Skip{SkipHour, SkipMinute, SkipSecond}[i], d); err != nil {
			return err
		}
	}
	if hasFrac {
		return parseComponent(frac, &d.Hundredths, SkipHundredths, d)
	}
	return nil
}

func parseComponent(s string, dst *uint8, bit Skip, d *DateTime) error {
	if s == "*" {
		return nil
	}
	v, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return err
	}
	*dst = uint8(v)
	d.Skip &^= bit
	return nil
}
