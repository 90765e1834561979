//go:build !no_scripts

// Package script loads manufacturer-specific class definitions from Lua
// files. A definition file declares classes with cosem.object{...}; the
// collected definitions back a factory resolver so documents and snapshots
// holding those classes get real attribute layouts instead of generic
// objects.
//
//	cosem.object{
//	  class_id = 9000,
//	  version = 1,
//	  name = "LoadProfileStatus",
//	  attributes = {
//	    {name = "status", type = "uint8", mode = "dynamic"},
//	    {name = "changed", type = "octstr", display = "datetime", access = "rw"},
//	  },
//	  methods = {"clear"},
//	}
package script

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"cosem-go/internal/cosem"
	"cosem-go/internal/dlms"
)

// ErrDefinition wraps every invalid definition.
var ErrDefinition = errors.New("script: invalid definition")

const maxDefinitionsPerFile = 256

// Definition is one scripted class layout.
type Definition struct {
	ClassID uint16
	// AnyVersion is set when the script gave no version; the definition
	// then serves every version of the class.
	AnyVersion bool
	Version    uint8
	Name       string
	Attributes []cosem.AttributeSchema
	Methods    []cosem.MethodSchema
	Source     string
}

type defKey struct {
	classID uint16
	version uint8
}

// Definitions holds loaded class definitions.
type Definitions struct {
	mu         sync.RWMutex
	exact      map[defKey]*Definition
	anyVersion map[uint16]*Definition
}

// NewDefinitions creates an empty set.
func NewDefinitions() *Definitions {
	return &Definitions{
		exact:      make(map[defKey]*Definition),
		anyVersion: make(map[uint16]*Definition),
	}
}

// Add inserts def, replacing a previous definition of the same class and version.
func (d *Definitions) Add(def Definition) {
	cp := def
	d.mu.Lock()
	defer d.mu.Unlock()
	if def.AnyVersion {
		d.anyVersion[def.ClassID] = &cp
		return
	}
	d.exact[defKey{def.ClassID, def.Version}] = &cp
}

// Lookup finds the definition for a class version. An exact version match
// wins over a version-agnostic one.
func (d *Definitions) Lookup(classID uint16, version uint8) (*Definition, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if def, ok := d.exact[defKey{classID, version}]; ok {
		return def, true
	}
	def, ok := d.anyVersion[classID]
	return def, ok
}

// Len returns the number of definitions.
func (d *Definitions) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.exact) + len(d.anyVersion)
}

// All returns the definitions ordered by class id and version.
func (d *Definitions) All() []Definition {
	d.mu.RLock()
	out := make([]Definition, 0, len(d.exact)+len(d.anyVersion))
	for _, def := range d.exact {
		out = append(out, *def)
	}
	for _, def := range d.anyVersion {
		out = append(out, *def)
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ClassID != out[j].ClassID {
			return out[i].ClassID < out[j].ClassID
		}
		return out[i].Version < out[j].Version
	})
	return out
}

// Resolver returns a factory fallback that builds custom objects from the
// loaded definitions.
func (d *Definitions) Resolver() cosem.Resolver {
	return func(classID uint16, version uint8) (cosem.Object, bool) {
		def, ok := d.Lookup(classID, version)
		if !ok {
			return nil, false
		}
		return cosem.NewCustom(classID, version, def.Name, def.Attributes, def.Methods), true
	}
}

// LoadDir executes every *.lua file in dir and collects the classes they
// define. A missing or empty directory yields an empty set, not an error.
func LoadDir(dir string, logger *slog.Logger) (*Definitions, error) {
	defs := NewDefinitions()

	matches, err := filepath.Glob(filepath.Join(dir, "*.lua"))
	if err != nil {
		return defs, fmt.Errorf("glob scripts dir: %w", err)
	}
	if len(matches) == 0 {
		logger.Info("no definition scripts found", "dir", dir)
		return defs, nil
	}

	for _, path := range matches {
		code, err := os.ReadFile(path)
		if err != nil {
			return defs, fmt.Errorf("read %s: %w", path, err)
		}
		loaded, err := Load(filepath.Base(path), string(code), logger)
		if err != nil {
			return defs, err
		}
		for _, def := range loaded {
			if cosem.Implemented(cosem.ObjectType(def.ClassID)) {
				logger.Warn("definition shadowed by built-in class", "class_id", def.ClassID, "file", def.Source)
			}
			defs.Add(def)
		}
	}

	logger.Info("loaded class definitions", "files", len(matches), "definitions", defs.Len())
	return defs, nil
}

// Load runs one definition script and returns the classes it declares.
func Load(name, code string, logger *slog.Logger) ([]Definition, error) {
	L := lua.NewState()
	defer L.Close()

	// Sandbox: definitions are data, they get no I/O.
	for _, g := range []string{"os", "io", "loadfile", "dofile", "require", "load", "debug", "package"} {
		L.SetGlobal(g, lua.LNil)
	}

	var defs []Definition
	registerCosemModule(L, name, &defs, logger)

	if err := L.DoString(code); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDefinition, name, err)
	}
	return defs, nil
}

// registerCosemModule registers the `cosem` global table in a Lua state.
func registerCosemModule(L *lua.LState, source string, defs *[]Definition, logger *slog.Logger) {
	mod := L.NewTable()

	mod.RawSetString("object", L.NewFunction(func(L *lua.LState) int {
		if len(*defs) >= maxDefinitionsPerFile {
			L.RaiseError("too many definitions (max %d)", maxDefinitionsPerFile)
			return 0
		}
		def := luaObject(L, L.CheckTable(1))
		def.Source = source
		*defs = append(*defs, def)
		return 0
	}))

	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		logger.Info("script log", "file", source, "msg", L.CheckString(1))
		return 0
	}))

	L.SetGlobal("cosem", mod)
}

// cosem.object{class_id=, version=, name=, attributes={...}, methods=...}
func luaObject(L *lua.LState, t *lua.LTable) Definition {
	classID, ok := tableNumber(t, "class_id")
	if !ok || classID < 1 || classID > 0xFFFF {
		L.RaiseError("class_id must be a number in 1..65535")
	}
	def := Definition{ClassID: uint16(classID), AnyVersion: true}

	if v, ok := tableNumber(t, "version"); ok {
		if v < 0 || v > 0xFF {
			L.RaiseError("version must be in 0..255")
		}
		def.Version = uint8(v)
		def.AnyVersion = false
	}
	if s, ok := t.RawGetString("name").(lua.LString); ok {
		def.Name = string(s)
	} else {
		def.Name = fmt.Sprintf("Class%d", def.ClassID)
	}

	if attrs, ok := t.RawGetString("attributes").(*lua.LTable); ok {
		for i := 1; i <= attrs.Len(); i++ {
			at, ok := attrs.RawGetInt(i).(*lua.LTable)
			if !ok {
				L.RaiseError("attribute %d must be a table", i+1)
			}
			a, err := luaAttribute(at)
			if err != nil {
				L.RaiseError("attribute %d: %v", i+1, err)
			}
			def.Attributes = append(def.Attributes, a)
		}
	}

	switch m := t.RawGetString("methods").(type) {
	case lua.LNumber:
		for i := 1; i <= int(m); i++ {
			def.Methods = append(def.Methods, cosem.MethodSchema{Name: fmt.Sprintf("method_%d", i)})
		}
	case *lua.LTable:
		for i := 1; i <= m.Len(); i++ {
			def.Methods = append(def.Methods, cosem.MethodSchema{Name: m.RawGetInt(i).String()})
		}
	}
	return def
}

func luaAttribute(t *lua.LTable) (cosem.AttributeSchema, error) {
	name, ok := t.RawGetString("name").(lua.LString)
	if !ok || name == "" {
		return cosem.AttributeSchema{}, errors.New("name is required")
	}
	a := cosem.AttributeSchema{Name: string(name), Mode: cosem.ReadOnceStatic, Access: cosem.AccessRead}

	var err error
	if s, ok := t.RawGetString("type").(lua.LString); ok && s != "choice" {
		if a.Type, err = dlms.ParseTypeName(string(s)); err != nil {
			return a, err
		}
	}
	if s, ok := t.RawGetString("display").(lua.LString); ok {
		if a.Display, err = dlms.ParseTypeName(string(s)); err != nil {
			return a, err
		}
	}

	switch mode := t.RawGetString("mode"); mode {
	case lua.LNil, lua.LString("static"):
	case lua.LString("dynamic"):
		a.Mode = cosem.Dynamic
	default:
		return a, fmt.Errorf("unknown mode %q", mode.String())
	}

	switch access := t.RawGetString("access"); access {
	case lua.LNil, lua.LString("r"):
	case lua.LString("w"):
		a.Access = cosem.AccessWrite
	case lua.LString("rw"):
		a.Access = cosem.AccessReadWrite
	case lua.LString("-"):
		a.Access = cosem.AccessNone
	default:
		return a, fmt.Errorf("unknown access %q", access.String())
	}
	return a, nil
}

func tableNumber(t *lua.LTable, key string) (float64, bool) {
	n, ok := t.RawGetString(key).(lua.LNumber)
	return float64(n), ok
}
