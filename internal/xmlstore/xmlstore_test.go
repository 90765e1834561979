package xmlstore

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"cosem-go/internal/cosem"
	"cosem-go/internal/dlms"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func mustSet(t *testing.T, obj cosem.Object, index int, v dlms.Value) {
	t.Helper()
	if err := obj.SetValue(nil, index, v); err != nil {
		t.Fatalf("set %d: %v", index, err)
	}
}

func mustName(t *testing.T, obj cosem.Object, ln string) {
	t.Helper()
	mustSet(t, obj, 1, dlms.NewOctetString(cosem.MustLogicalName(ln).Bytes()))
}

func sampleObjects(t *testing.T) []cosem.Object {
	t.Helper()

	reg := cosem.NewRegister(0)
	mustName(t, reg, "1.0.1.8.0.255")
	reg.SetDescription("Active energy import")
	mustSet(t, reg, 2, dlms.NewUInt32(1500))
	mustSet(t, reg, 3, cosem.ScalerUnit{Scaler: -1, Unit: cosem.UnitWattHour}.Value())

	clock := cosem.NewClock(0)
	mustName(t, clock, "0.0.1.0.0.255")
	mustSet(t, clock, 2, dlms.NewDateTime(dlms.DateTime{
		Year: 2024, Month: 10, Day: 27, DayOfWeek: 7,
		Hour: 2, Minute: 59, Second: 59, Hundredths: 99,
		Deviation: 60, Status: dlms.StatusDaylightSaving,
	}))
	mustSet(t, clock, 3, dlms.NewInt16(-60))
	mustSet(t, clock, 5, dlms.NewDateTime(dlms.DateTime{
		Month: 3, Day: 0xFE, DayOfWeek: 7, Hour: 2,
		Skip: dlms.SkipYear | dlms.SkipMinute | dlms.SkipSecond | dlms.SkipHundredths | dlms.SkipDeviation | dlms.SkipStatus,
	}))
	mustSet(t, clock, 6, dlms.NewDateTime(dlms.DateTime{Skip: dlms.SkipAll}))
	mustSet(t, clock, 8, dlms.NewBool(true))

	empty := cosem.NewData(0)
	mustName(t, empty, "0.0.96.1.0.255")
	mustSet(t, empty, 2, dlms.NewOctetString(nil))

	text := cosem.NewData(0)
	mustName(t, text, "0.0.96.1.1.255")
	mustSet(t, text, 2, dlms.NewVisibleString("  SN <42> & co "))

	bits, err := dlms.NewBitString("1011")
	if err != nil {
		t.Fatal(err)
	}
	tree := cosem.NewData(0)
	mustName(t, tree, "0.0.96.5.0.255")
	mustSet(t, tree, 2, dlms.NewStructure(
		dlms.NewArray(dlms.NewUInt8(1), dlms.NewUInt8(2)),
		dlms.NewStructure(dlms.NewFloat64(-0.5), dlms.NewNone(), bits),
		dlms.NewArray(),
		dlms.NewDate(dlms.DateTime{Year: 2020, Month: 2, Day: 29, Skip: dlms.SkipDayOfWeek}),
		dlms.NewVisibleString(""),
	))

	push := cosem.NewPushSetup(2)
	mustName(t, push, "0.7.25.9.0.255")
	if err := push.Negotiate(2, 0x7A00); err != nil {
		t.Fatal(err)
	}
	mustSet(t, push, 2, dlms.NewArray(cosem.PushObject{
		Type: cosem.TypeClock, LogicalName: cosem.MustLogicalName("0.0.1.0.0.255"), AttributeIndex: 2,
	}.Value()))
	mustSet(t, push, 6, dlms.NewUInt8(3))

	generic := cosem.NewGeneric(cosem.TypeNone, 77, 2)
	mustName(t, generic, "0.128.96.0.0.255")

	return []cosem.Object{reg, clock, empty, text, tree, push, generic}
}

func encode(t *testing.T, objs []cosem.Object) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := NewEncoder(&buf).Encode(objs); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func decode(t *testing.T, doc []byte) []cosem.Object {
	t.Helper()
	objs, err := NewDecoder(bytes.NewReader(doc), cosem.NewFactory(testLogger()), testLogger()).Decode()
	if err != nil {
		t.Fatalf("decode: %v\n%s", err, doc)
	}
	return objs
}

func TestRoundTrip(t *testing.T) {
	want := sampleObjects(t)
	doc := encode(t, want)
	got := decode(t, doc)

	if len(got) != len(want) {
		t.Fatalf("objects = %d, want %d", len(got), len(want))
	}
	for i := range want {
		wid, gid := want[i].Identity(), got[i].Identity()
		if wid != gid {
			t.Errorf("object %d identity = %+v, want %+v", i, gid, wid)
			continue
		}
		if got[i].AttributeCount() != want[i].AttributeCount() {
			t.Errorf("%s: attributes = %d, want %d", wid.LogicalName, got[i].AttributeCount(), want[i].AttributeCount())
			continue
		}
		for idx := 1; idx <= want[i].AttributeCount(); idx++ {
			wv, _ := want[i].GetValue(nil, idx)
			gv, _ := got[i].GetValue(nil, idx)
			if !dlms.Equal(gv, wv) {
				t.Errorf("%s attribute %d = %v, want %v", wid.LogicalName, idx, gv, wv)
			}
		}
	}

	// A second pass produces the same document.
	if again := encode(t, got); !bytes.Equal(again, doc) {
		t.Errorf("re-encoded document differs:\n%s\nwant:\n%s", again, doc)
	}
}

func TestEmptyOctetString(t *testing.T) {
	got := decode(t, encode(t, sampleObjects(t)[2:3]))
	v, _ := got[0].GetValue(nil, 2)
	if v.IsNone() || v.Type() != dlms.TypeOctetString {
		t.Fatalf("value = %v, want empty octet string", v)
	}
	if b, _ := v.Bytes(); len(b) != 0 {
		t.Errorf("bytes = % X, want empty", b)
	}
}

func TestDisplayTypeInDocument(t *testing.T) {
	objs := sampleObjects(t)
	doc := string(encode(t, objs[1:2]))
	if !strings.Contains(doc, `<time Index="2" Type="9" UIType="25">2024-10-27 02:59:59.99 w7 d60 s80</time>`) {
		t.Errorf("clock time element missing:\n%s", doc)
	}
	if !strings.Contains(doc, `<daylight_savings_end Index="6" Type="9" UIType="25"></daylight_savings_end>`) {
		t.Errorf("all-skipped element missing:\n%s", doc)
	}

	clock := decode(t, []byte(doc))[0]
	v, _ := clock.GetValue(nil, 2)
	wantWire, _ := dlms.EncodeAs(mustValue(t, objs[1], 2), dlms.TypeOctetString)
	gotWire, err := dlms.EncodeAs(v, dlms.TypeOctetString)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(gotWire, wantWire) {
		t.Errorf("wire = % X, want % X", gotWire, wantWire)
	}
}

func mustValue(t *testing.T, obj cosem.Object, index int) dlms.Value {
	t.Helper()
	v, err := obj.GetValue(nil, index)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestGenericElement(t *testing.T) {
	doc := string(encode(t, sampleObjects(t)[6:]))
	if !strings.Contains(doc, `<Object ClassID="77">`) {
		t.Errorf("generic element missing:\n%s", doc)
	}
	if !strings.Contains(doc, `<Version>2</Version>`) {
		t.Errorf("version missing:\n%s", doc)
	}
}

func TestPartialDateText(t *testing.T) {
	doc := `<Objects>
  <Clock>
    <LN>0.0.1.0.0.255</LN>
    <time Index="2" Type="octstr" UIType="datetime">2024-05-01</time>
    <daylight_savings_begin Type="octstr" UIType="datetime">*-03-* 02:00:00</daylight_savings_begin>
  </Clock>
</Objects>`
	clock := decode(t, []byte(doc))[0].(*cosem.Clock)
	d, ok := clock.Time()
	if !ok {
		t.Fatal("time not set")
	}
	if d.Year != 2024 || d.Skip&dlms.SkipTime != dlms.SkipTime {
		t.Errorf("time = %+v", d)
	}
	begin := mustValue(t, clock, 5)
	if bd, _ := begin.DateTime(); bd.Month != 3 || bd.Skip&dlms.SkipYear == 0 || bd.Skip&dlms.SkipDay == 0 {
		t.Errorf("begin = %+v", bd)
	}
}

func TestDecodeInto(t *testing.T) {
	c := cosem.NewCollection()
	n, err := NewDecoder(bytes.NewReader(encode(t, sampleObjects(t))), cosem.NewFactory(testLogger()), testLogger()).DecodeInto(c)
	if err != nil {
		t.Fatal(err)
	}
	if n != 7 || c.Len() != 7 {
		t.Errorf("decoded %d, collection %d, want 7", n, c.Len())
	}
	if _, ok := c.FindByShortName(0x7A00); !ok {
		t.Error("push setup not indexed by short name")
	}
	if _, ok := c.Find(77, cosem.MustLogicalName("0.128.96.0.0.255")); !ok {
		t.Error("generic object not found by class id")
	}
}

func TestMalformedDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", ``},
		{"wrong root", `<Things></Things>`},
		{"truncated", `<Objects><Data><LN>0.0.1.0.0.255</LN>`},
		{"bad logical name", `<Objects><Data><LN>1.2.3</LN></Data></Objects>`},
		{"unknown type", `<Objects><Data><value Index="2" Type="complex">1</value></Data></Objects>`},
		{"missing type", `<Objects><Data><value Index="2">1</value></Data></Objects>`},
		{"bad number", `<Objects><Data><value Index="2" Type="uint8">300</value></Data></Objects>`},
		{"bad hex", `<Objects><Data><value Index="2" Type="octstr">XYZ</value></Data></Objects>`},
		{"text in container", `<Objects><Data><value Index="2" Type="array">1</value></Data></Objects>`},
		{"foreign child", `<Objects><Data><value Index="2" Type="array"><Entry Type="uint8">1</Entry></value></Data></Objects>`},
		{"index out of range", `<Objects><Data><value Index="9" Type="uint8">1</value></Data></Objects>`},
		{"type mismatch", `<Objects><Clock><time_zone Index="3" Type="uint8">1</time_zone></Clock></Objects>`},
		{"bad version", `<Objects><Data><Version>x</Version></Data></Objects>`},
		{"syntax", `<Objects><Data></Objects>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDecoder(strings.NewReader(tt.doc), cosem.NewFactory(testLogger()), testLogger()).Decode()
			if !errors.Is(err, dlms.ErrFormat) {
				t.Errorf("err = %v, want ErrFormat", err)
			}
		})
	}
}

func TestValueDocument(t *testing.T) {
	values := []dlms.Value{
		dlms.NewOctetString(nil),
		dlms.NewVisibleString("x"),
		dlms.NewStructure(dlms.NewInt64(-1), dlms.NewArray(dlms.NewBool(false))),
		dlms.NewTime(dlms.DateTime{Hour: 23, Minute: 59, Skip: dlms.SkipSecond | dlms.SkipHundredths}),
	}
	for _, v := range values {
		var buf bytes.Buffer
		if err := EncodeValue(&buf, v, dlms.TypeNone); err != nil {
			t.Fatal(err)
		}
		got, err := DecodeValue(&buf)
		if err != nil {
			t.Fatalf("%v: %v", v, err)
		}
		if !dlms.Equal(got, v) {
			t.Errorf("got %v, want %v", got, v)
		}
	}
}

func TestStringsOutsideXMLText(t *testing.T) {
	tests := []struct {
		v    dlms.Value
		wire dlms.DataType
	}{
		{dlms.NewVisibleString("a\x01b"), dlms.TypeNone},
		{dlms.NewVisibleString("\xff\xfe"), dlms.TypeNone},
		{dlms.NewVisibleString("\x00"), dlms.TypeOctetString},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		if err := EncodeValue(&buf, tt.v, tt.wire); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(buf.String(), `Encoding="hex"`) {
			t.Errorf("%q: document %s has no hex marker", tt.v.Text(), buf.String())
		}
		got, err := DecodeValue(&buf)
		if err != nil {
			t.Fatalf("%q: %v", tt.v.Text(), err)
		}
		if !dlms.Equal(got, tt.v) {
			t.Errorf("got %q, want %q", got.Text(), tt.v.Text())
		}
	}

	var buf bytes.Buffer
	if err := EncodeValue(&buf, dlms.NewVisibleString("tab\there"), dlms.TypeNone); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "Encoding") {
		t.Errorf("plain text written as hex: %s", buf.String())
	}
}

func TestHexEncodingOnlyForStrings(t *testing.T) {
	doc := `<Value Type="6" Encoding="hex">01</Value>`
	if _, err := DecodeValue(strings.NewReader(doc)); !errors.Is(err, dlms.ErrFormat) {
		t.Errorf("err = %v, want ErrFormat", err)
	}
}

func TestNoneIgnoresWireType(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeValue(&buf, dlms.NewNone(), dlms.TypeOctetString); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `Type="0"`) {
		t.Errorf("document = %s, want Type=\"0\"", buf.String())
	}
	got, err := DecodeValue(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsNone() {
		t.Errorf("got %v, want none", got)
	}
}

func TestDescriptionOutsideXMLText(t *testing.T) {
	obj := cosem.NewData(0)
	mustName(t, obj, "0.0.96.1.0.255")
	obj.SetDescription("bad\x02name")
	var buf bytes.Buffer
	if err := NewEncoder(&buf).Encode([]cosem.Object{obj}); !errors.Is(err, dlms.ErrFormat) {
		t.Errorf("err = %v, want ErrFormat", err)
	}
}
