package cosem

import (
	"log/slog"
	"sync"
)

// Constructor builds an unnamed object of one class version.
type Constructor func(version uint8) Object

// Resolver supplies objects for classes outside the built-in table. It
// returns false when it does not know the class.
type Resolver func(classID uint16, version uint8) (Object, bool)

// builtins is the closed table of implemented classes.
var builtins = map[ObjectType]Constructor{
	TypeData:             func(v uint8) Object { return NewData(v) },
	TypeRegister:         func(v uint8) Object { return NewRegister(v) },
	TypeExtendedRegister: func(v uint8) Object { return NewExtendedRegister(v) },
	TypeClock:            func(v uint8) Object { return NewClock(v) },
	TypePushSetup:        func(v uint8) Object { return NewPushSetup(v) },
}

// Factory creates objects by type tag. Unknown tags go to the resolver,
// and failing that become Generic objects.
type Factory struct {
	mu       sync.RWMutex
	resolver Resolver
	logger   *slog.Logger
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithResolver installs a fallback for unknown classes.
func WithResolver(r Resolver) FactoryOption {
	return func(f *Factory) { f.resolver = r }
}

// NewFactory creates a factory over the built-in class table.
func NewFactory(logger *slog.Logger, opts ...FactoryOption) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{logger: logger.With("component", "factory")}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SetResolver replaces the fallback. nil removes it.
func (f *Factory) SetResolver(r Resolver) {
	f.mu.Lock()
	f.resolver = r
	f.mu.Unlock()
}

// Implemented reports whether t has a built-in class.
func Implemented(t ObjectType) bool {
	_, ok := builtins[t]
	return ok
}

// Create returns a fresh, unnamed object. It never fails: a tag without a
// built-in class is offered to the resolver with classID, and otherwise
// yields a Generic object that keeps classID and version.
func (f *Factory) Create(t ObjectType, classID uint16, version uint8) Object {
	if ctor, ok := builtins[t]; ok {
		return ctor(version)
	}
	if t != TypeNone && classID == 0 {
		classID = uint16(t)
	}
	f.mu.RLock()
	resolve := f.resolver
	f.mu.RUnlock()
	if resolve != nil {
		if obj, ok := resolve(classID, version); ok && obj != nil {
			f.logger.Debug("object resolved", "class_id", classID, "version", version)
			return obj
		}
	}
	f.logger.Debug("generic object", "type", t, "class_id", classID, "version", version)
	return NewGeneric(t, classID, version)
}
