package cosem

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrDuplicateObject is returned when an object with the same class and
	// logical name is already present.
	ErrDuplicateObject = errors.New("cosem: duplicate object")
	// ErrNoLogicalName is returned when adding an unnamed object.
	ErrNoLogicalName = errors.New("cosem: object has no logical name")
)

// Collection is the set of objects known for one meter, indexed by class
// and logical name and, when assigned, by short name.
type Collection struct {
	mu      sync.RWMutex
	objects []Object
	byKey   map[string]Object
	byShort map[uint16]Object
}

// NewCollection creates an empty collection.
func NewCollection() *Collection {
	return &Collection{
		byKey:   make(map[string]Object),
		byShort: make(map[uint16]Object),
	}
}

// Add inserts obj. It must be named and unique by class and logical name.
func (c *Collection) Add(obj Object) error {
	id := obj.Identity()
	if !id.HasLogicalName {
		return ErrNoLogicalName
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key := id.Key()
	if _, ok := c.byKey[key]; ok {
		return fmt.Errorf("%w: %s %s", ErrDuplicateObject, id.Type, id.LogicalName)
	}
	c.byKey[key] = obj
	if id.ShortName != 0 {
		c.byShort[id.ShortName] = obj
	}
	c.objects = append(c.objects, obj)
	return nil
}

// Remove deletes obj; it reports whether it was present.
func (c *Collection) Remove(obj Object) bool {
	id := obj.Identity()
	c.mu.Lock()
	defer c.mu.Unlock()
	key := id.Key()
	if c.byKey[key] != obj {
		return false
	}
	delete(c.byKey, key)
	if id.ShortName != 0 && c.byShort[id.ShortName] == obj {
		delete(c.byShort, id.ShortName)
	}
	for i, o := range c.objects {
		if o == obj {
			c.objects = append(c.objects[:i], c.objects[i+1:]...)
			break
		}
	}
	return true
}

// Find returns the object with the given class id and logical name.
func (c *Collection) Find(classID uint16, ln LogicalName) (Object, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	obj, ok := c.byKey[Identity{ClassID: classID, LogicalName: ln}.Key()]
	return obj, ok
}

// FindByName returns the object of type t with the given logical name.
func (c *Collection) FindByName(t ObjectType, ln LogicalName) (Object, bool) {
	return c.Find(uint16(t), ln)
}

// FindByLogicalName returns the first object with ln, whatever its class.
func (c *Collection) FindByLogicalName(ln LogicalName) (Object, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, obj := range c.objects {
		if id := obj.Identity(); id.LogicalName == ln {
			return obj, true
		}
	}
	return nil, false
}

// FindByShortName returns the object with the given short name.
func (c *Collection) FindByShortName(sn uint16) (Object, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	obj, ok := c.byShort[sn]
	return obj, ok
}

// ByType returns objects of type t in insertion order.
func (c *Collection) ByType(t ObjectType) []Object {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Object
	for _, obj := range c.objects {
		if obj.Identity().Type == t {
			out = append(out, obj)
		}
	}
	return out
}

// All returns every object in insertion order.
func (c *Collection) All() []Object {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Object{}, c.objects...)
}

// Sorted returns every object ordered by class id, then logical name.
func (c *Collection) Sorted() []Object {
	out := c.All()
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Identity(), out[j].Identity()
		if a.ClassID != b.ClassID {
			return a.ClassID < b.ClassID
		}
		return string(a.LogicalName[:]) < string(b.LogicalName[:])
	})
	return out
}

// Len returns the number of objects.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.objects)
}
