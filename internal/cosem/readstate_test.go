package cosem

import (
	"errors"
	"reflect"
	"testing"

	"cosem-go/internal/dlms"
)

func testTracker() *Tracker {
	return NewTracker(
		[]ReadMode{ReadOnceStatic, ReadOnceStatic, Dynamic, ReadOnceStatic, Dynamic},
		[]Access{AccessRead, AccessRead, AccessRead, AccessRead, AccessWrite},
	)
}

func TestAttributesToRead(t *testing.T) {
	tr := testTracker()
	if err := tr.MarkRead(4); err != nil {
		t.Fatal(err)
	}

	if got, want := tr.AttributesToRead(false, false), []int{1, 2, 3}; !reflect.DeepEqual(got, want) {
		t.Errorf("unnamed: got %v, want %v", got, want)
	}

	if err := tr.MarkRead(2); err != nil {
		t.Fatal(err)
	}
	if got, want := tr.AttributesToRead(false, true), []int{3}; !reflect.DeepEqual(got, want) {
		t.Errorf("named: got %v, want %v", got, want)
	}

	if got, want := tr.AttributesToRead(true, true), []int{1, 2, 3, 4, 5}; !reflect.DeepEqual(got, want) {
		t.Errorf("include all: got %v, want %v", got, want)
	}
}

func TestMarkReadDynamicUnchanged(t *testing.T) {
	tr := testTracker()
	if err := tr.MarkRead(3); err != nil {
		t.Fatal(err)
	}
	if s, _ := tr.State(3); s != Unread {
		t.Errorf("dynamic state = %v, want Unread", s)
	}
	if got := tr.ReadIndices(); len(got) != 0 {
		t.Errorf("read indices = %v, want none", got)
	}
}

func TestTrackerIndexErrors(t *testing.T) {
	tr := testTracker()
	for _, idx := range []int{0, 6, -1} {
		if err := tr.MarkRead(idx); !errors.Is(err, dlms.ErrInvalidIndex) {
			t.Errorf("MarkRead(%d) err = %v, want ErrInvalidIndex", idx, err)
		}
		if _, err := tr.Mode(idx); !errors.Is(err, dlms.ErrInvalidIndex) {
			t.Errorf("Mode(%d) err = %v, want ErrInvalidIndex", idx, err)
		}
	}
}

func TestTrackerResetAndResize(t *testing.T) {
	tr := testTracker()
	tr.MarkRead(2)
	tr.MarkRead(4)

	tr.Resize([]ReadMode{ReadOnceStatic, ReadOnceStatic, Dynamic}, []Access{AccessRead, AccessRead, AccessRead})
	if tr.Len() != 3 {
		t.Fatalf("len = %d, want 3", tr.Len())
	}
	if got := tr.ReadIndices(); !reflect.DeepEqual(got, []int{2}) {
		t.Errorf("after resize: read = %v, want [2]", got)
	}

	tr.Reset()
	if got := tr.AttributesToRead(false, true); !reflect.DeepEqual(got, []int{2, 3}) {
		t.Errorf("after reset: got %v, want [2 3]", got)
	}
}
