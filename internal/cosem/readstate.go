package cosem

import (
	"fmt"
	"sync"

	"cosem-go/internal/dlms"
)

// Access flags
type Access uint8

const (
	AccessNone  Access = 0
	AccessRead  Access = 0x01
	AccessWrite Access = 0x02

	AccessReadWrite = AccessRead | AccessWrite
)

// CanRead returns true if the attribute can be read.
func (a Access) CanRead() bool { return a&AccessRead != 0 }

// CanWrite returns true if the attribute can be written.
func (a Access) CanWrite() bool { return a&AccessWrite != 0 }

func (a Access) String() string {
	switch a {
	case AccessRead:
		return "r"
	case AccessWrite:
		return "w"
	case AccessReadWrite:
		return "rw"
	}
	return "-"
}

// ReadMode says how often an attribute has to be read.
type ReadMode uint8

const (
	// ReadOnceStatic attributes keep their value once read.
	ReadOnceStatic ReadMode = iota
	// Dynamic attributes are re-read on every pass.
	Dynamic
)

func (m ReadMode) String() string {
	if m == Dynamic {
		return "dynamic"
	}
	return "static"
}

// ReadState records whether an attribute has been read.
type ReadState uint8

const (
	Unread ReadState = iota
	Read
)

// Tracker is the per-object read-state table, indexed 1..n.
// It is safe for concurrent use, but a read pass (AttributesToRead then
// MarkRead) is only consistent when one caller drives it at a time.
type Tracker struct {
	mu     sync.RWMutex
	modes  []ReadMode
	access []Access
	states []ReadState
}

// NewTracker sizes a tracker to len(modes) attributes. access must be the same length.
func NewTracker(modes []ReadMode, access []Access) *Tracker {
	t := &Tracker{}
	t.Resize(modes, access)
	return t
}

// Resize replaces the attribute layout, keeping states of indices that still exist.
func (t *Tracker) Resize(modes []ReadMode, access []Access) {
	t.mu.Lock()
	defer t.mu.Unlock()
	states := make([]ReadState, len(modes))
	copy(states, t.states)
	t.modes = append([]ReadMode{}, modes...)
	t.access = make([]Access, len(modes))
	copy(t.access, access)
	t.states = states
}

// Len returns the attribute count.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.modes)
}

func (t *Tracker) check(index int) error {
	if index < 1 || index > len(t.modes) {
		return fmt.Errorf("%w: attribute %d outside 1..%d", dlms.ErrInvalidIndex, index, len(t.modes))
	}
	return nil
}

// Mode returns the read mode of index.
func (t *Tracker) Mode(index int) (ReadMode, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.check(index); err != nil {
		return 0, err
	}
	return t.modes[index-1], nil
}

// State returns the read state of index.
func (t *Tracker) State(index int) (ReadState, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.check(index); err != nil {
		return 0, err
	}
	return t.states[index-1], nil
}

// MarkRead records a successful read. Dynamic attributes never change state.
func (t *Tracker) MarkRead(index int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(index); err != nil {
		return err
	}
	if t.modes[index-1] == ReadOnceStatic {
		t.states[index-1] = Read
	}
	return nil
}

// Reset forgets all reads.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.states {
		t.states[i] = Unread
	}
}

// ReadIndices returns the indices currently in the Read state.
func (t *Tracker) ReadIndices() []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []int
	for i, s := range t.states {
		if s == Read {
			out = append(out, i+1)
		}
	}
	return out
}

// AttributesToRead selects the attributes a read pass must fetch, in
// ascending index order. Dependent attributes (a scaled value after its
// scaler) rely on that order.
//
// Index 1 (logical name) is selected when includeAll is set or the name is
// still unset. Other indices are selected when includeAll is set, when they
// are Dynamic and readable, or when they are ReadOnceStatic, readable and
// still Unread.
func (t *Tracker) AttributesToRead(includeAll, logicalNameSet bool) []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]int, 0, len(t.modes))
	for i := 1; i <= len(t.modes); i++ {
		if i == 1 {
			if includeAll || !logicalNameSet {
				out = append(out, i)
			}
			continue
		}
		if includeAll {
			out = append(out, i)
			continue
		}
		if !t.access[i-1].CanRead() {
			continue
		}
		switch t.modes[i-1] {
		case Dynamic:
			out = append(out, i)
		case ReadOnceStatic:
			if t.states[i-1] == Unread {
				out = append(out, i)
			}
		}
	}
	return out
}
