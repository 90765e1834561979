package store

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	bolt "go.etcd.io/bbolt"

	"cosem-go/internal/cosem"
	"cosem-go/internal/dlms"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testFactory() *cosem.Factory {
	return cosem.NewFactory(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
}

func testRegister(t *testing.T) *cosem.Register {
	t.Helper()
	r := cosem.NewRegister(0)
	if err := r.SetLogicalName(cosem.MustLogicalName("1.0.1.8.0.255")); err != nil {
		t.Fatal(err)
	}
	r.SetDescription("Active energy import")
	if err := r.SetValue(nil, 2, dlms.NewUInt32(1500)); err != nil {
		t.Fatal(err)
	}
	if err := r.SetValue(nil, 3, cosem.ScalerUnit{Scaler: -3, Unit: cosem.UnitWattHour}.Value()); err != nil {
		t.Fatal(err)
	}
	r.Tracker().MarkRead(3)
	return r
}

func TestSaveAndLoadObject(t *testing.T) {
	s := newTestStore(t)
	f := testFactory()
	reg := testRegister(t)

	if err := s.SaveObject(reg); err != nil {
		t.Fatal(err)
	}
	got, err := s.LoadObject(f, 3, cosem.MustLogicalName("1.0.1.8.0.255"))
	if err != nil {
		t.Fatal(err)
	}
	if got.Identity() != reg.Identity() {
		t.Errorf("identity = %+v, want %+v", got.Identity(), reg.Identity())
	}
	for idx := 1; idx <= 3; idx++ {
		want, _ := reg.GetValue(nil, idx)
		v, _ := got.GetValue(nil, idx)
		if !dlms.Equal(v, want) {
			t.Errorf("attribute %d = %v, want %v", idx, v, want)
		}
	}
	if r := got.Tracker().ReadIndices(); !reflect.DeepEqual(r, []int{3}) {
		t.Errorf("read = %v, want [3]", r)
	}
	if sel := got.AttributesToRead(false); !reflect.DeepEqual(sel, []int{2}) {
		t.Errorf("to read = %v, want [2]", sel)
	}
}

func TestLoadObjectNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadObject(testFactory(), 1, cosem.MustLogicalName("0.0.96.1.0.255"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveCollectionAndList(t *testing.T) {
	s := newTestStore(t)
	c := cosem.NewCollection()

	clock := cosem.NewClock(0)
	clock.SetLogicalName(cosem.MustLogicalName("0.0.1.0.0.255"))
	clock.SetValue(nil, 2, dlms.NewDateTime(dlms.DateTime{Year: 2024, Month: 6, Day: 1, Skip: dlms.SkipDayOfWeek | dlms.SkipTime | dlms.SkipDeviation | dlms.SkipStatus}))
	push := cosem.NewPushSetup(2)
	push.SetLogicalName(cosem.MustLogicalName("0.7.25.9.0.255"))
	if err := push.Negotiate(2, 0x7A00); err != nil {
		t.Fatal(err)
	}
	generic := cosem.NewGeneric(cosem.TypeNone, 77, 2)
	generic.SetLogicalName(cosem.MustLogicalName("0.128.96.0.0.255"))

	for _, obj := range []cosem.Object{testRegister(t), clock, push, generic} {
		if err := c.Add(obj); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.SaveCollection(c); err != nil {
		t.Fatal(err)
	}

	objs, err := s.ListObjects(testFactory())
	if err != nil {
		t.Fatal(err)
	}
	if len(objs) != 4 {
		t.Fatalf("listed %d objects, want 4", len(objs))
	}
	byKey := make(map[string]cosem.Object)
	for _, obj := range objs {
		byKey[obj.Identity().Key()] = obj
	}
	g, ok := byKey["77/0.128.96.0.0.255"]
	if !ok {
		t.Fatal("generic object missing")
	}
	if id := g.Identity(); id.Version != 2 || id.Type != cosem.TypeNone {
		t.Errorf("generic identity = %+v", id)
	}
	p := byKey["40/0.7.25.9.0.255"]
	if p == nil || p.AttributeCount() != 13 || p.Identity().ShortName != 0x7A00 {
		t.Errorf("push setup not restored at version 2: %+v", p)
	}
	restored := byKey["8/0.0.1.0.0.255"].(*cosem.Clock)
	if d, ok := restored.Time(); !ok || d.Year != 2024 {
		t.Errorf("clock time = %+v", d)
	}
}

func TestUpdateObject(t *testing.T) {
	s := newTestStore(t)
	f := testFactory()
	ln := cosem.MustLogicalName("1.0.1.8.0.255")
	if err := s.SaveObject(testRegister(t)); err != nil {
		t.Fatal(err)
	}

	err := s.UpdateObject(f, 3, ln, func(obj cosem.Object) error {
		return obj.SetValue(nil, 2, dlms.NewUInt32(1600))
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.LoadObject(f, 3, ln)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := got.GetValue(nil, 2); !dlms.Equal(v, dlms.NewUInt32(1600)) {
		t.Errorf("value = %v, want 1600", v)
	}

	failing := errors.New("nope")
	if err := s.UpdateObject(f, 3, ln, func(cosem.Object) error { return failing }); !errors.Is(err, failing) {
		t.Errorf("err = %v, want callback error", err)
	}
	if err := s.UpdateObject(f, 1, ln, func(cosem.Object) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing: err = %v, want ErrNotFound", err)
	}
}

func TestDeleteObject(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveObject(testRegister(t)); err != nil {
		t.Fatal(err)
	}
	ln := cosem.MustLogicalName("1.0.1.8.0.255")
	if err := s.DeleteObject(3, ln); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LoadObject(testFactory(), 3, ln); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveUnnamedObject(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveObject(cosem.NewData(0)); !errors.Is(err, cosem.ErrNoLogicalName) {
		t.Errorf("err = %v, want ErrNoLogicalName", err)
	}
}

func TestSession(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetSession(); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	want := &SessionState{ClientAddress: 16, ServerAddress: 1, ShortNameReferencing: true}
	if err := s.SaveSession(want); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetSession()
	if err != nil {
		t.Fatal(err)
	}
	if *got != *want {
		t.Errorf("session = %+v, want %+v", got, want)
	}
	if !got.Settings().ShortNameReferencing {
		t.Error("settings lost referencing mode")
	}
}

func TestListSkipsStaleRecords(t *testing.T) {
	s := newTestStore(t)
	custom := cosem.NewCustom(9000, 0, "vendor", []cosem.AttributeSchema{
		{Name: "counter", Type: dlms.TypeUInt32, Mode: cosem.Dynamic, Access: cosem.AccessRead},
	}, nil)
	if err := custom.SetLogicalName(cosem.MustLogicalName("0.128.1.0.0.255")); err != nil {
		t.Fatal(err)
	}
	if err := custom.SetValue(nil, 2, dlms.NewUInt32(7)); err != nil {
		t.Fatal(err)
	}
	for _, obj := range []cosem.Object{custom, testRegister(t)} {
		if err := s.SaveObject(obj); err != nil {
			t.Fatal(err)
		}
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketObjects).Put([]byte("1/0.0.96.1.0.255"), []byte{0xFF, 0x00})
	})
	if err != nil {
		t.Fatal(err)
	}

	// No resolver: the custom class comes back as a generic object without attribute 2.
	objs, err := s.ListObjects(testFactory())
	if err != nil {
		t.Fatal(err)
	}
	if len(objs) != 2 {
		t.Fatalf("listed %d objects, want 2", len(objs))
	}
	byKey := make(map[string]cosem.Object)
	for _, obj := range objs {
		byKey[obj.Identity().Key()] = obj
	}
	g := byKey["9000/0.128.1.0.0.255"]
	if g == nil || g.AttributeCount() != 1 {
		t.Fatalf("custom object not restored as generic: %v", g)
	}
	reg := byKey["3/1.0.1.8.0.255"]
	if reg == nil {
		t.Fatal("register missing")
	}
	if v, _ := reg.GetValue(nil, 2); !dlms.Equal(v, dlms.NewUInt32(1500)) {
		t.Errorf("register value = %v", v)
	}
}
