//go:build !no_automation

package automation

import (
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"

	"cosem-go/internal/cosem"
	"cosem-go/internal/dlms"
)

const maxHandlersPerScript = 100

// registerCosemModule installs the `cosem` global.
func registerCosemModule(L *lua.LState, vm *scriptVM, e *Engine) {
	funcs := map[string]lua.LGFunction{
		"on":      func(L *lua.LState) int { return cosemOn(L, vm) },
		"get":     func(L *lua.LState) int { return cosemGet(L, e) },
		"set":     func(L *lua.LState) int { return cosemSet(L, e) },
		"invoke":  func(L *lua.LState) int { return cosemInvoke(L, e) },
		"read":    func(L *lua.LState) int { return cosemRead(L, e) },
		"scaled":  func(L *lua.LState) int { return cosemScaled(L, e) },
		"objects": func(L *lua.LState) int { return cosemObjects(L, e) },
		"after":   func(L *lua.LState) int { return cosemAfter(L, vm, e) },
		"log": func(L *lua.LState) int {
			scriptLog(vm, e, "info", L.CheckString(1))
			return 0
		},
	}
	mod := L.NewTable()
	for name, fn := range funcs {
		mod.RawSetString(name, L.NewFunction(fn))
	}
	L.SetGlobal("cosem", mod)
}

// cosem.on(type, [filter,] callback). filter may hold ln, class_id and index.
func cosemOn(L *lua.LState, vm *scriptVM) int {
	h := luaEventHandler{eventType: L.CheckString(1)}
	switch arg := L.Get(2).(type) {
	case *lua.LFunction:
		h.fn = arg
	case *lua.LTable:
		if v := arg.RawGetString("ln"); v != lua.LNil {
			ln, err := cosem.ParseLogicalName(v.String())
			if err != nil {
				L.ArgError(2, err.Error())
				return 0
			}
			h.ln = ln.String()
		}
		if n, ok := arg.RawGetString("class_id").(lua.LNumber); ok {
			if n < 0 || n > 65535 {
				L.ArgError(2, "class_id must be 0-65535")
				return 0
			}
			h.classID = uint16(n)
		}
		if n, ok := arg.RawGetString("index").(lua.LNumber); ok {
			h.index = int(n)
		}
		h.fn = L.CheckFunction(3)
	default:
		L.ArgError(2, "filter table or function expected")
		return 0
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()
	if len(vm.handlers) >= maxHandlersPerScript {
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	return 0
}

// checkObject resolves argument n as a logical name or description.
func checkObject(L *lua.LState, e *Engine, n int) (cosem.Object, error) {
	target := L.CheckString(n)
	obj, ok := e.findObject(target, 0)
	if !ok {
		return nil, fmt.Errorf("object not found: %s", target)
	}
	return obj, nil
}

// cosem.get(target, index) -> value | nil, err
func cosemGet(L *lua.LState, e *Engine) int {
	obj, err := checkObject(L, e, 1)
	if err != nil {
		return pushNil(L, err)
	}
	results := e.service.Read(obj, []int{L.CheckInt(2)})
	if r := results[0]; !r.OK() {
		return pushNil(L, r.Err)
	}
	L.Push(valueToLua(L, results[0].Value))
	return 1
}

// cosem.set(target, index, value [, type]) -> true | false, err
func cosemSet(L *lua.LState, e *Engine) int {
	obj, err := checkObject(L, e, 1)
	if err != nil {
		return pushFailure(L, err)
	}
	index := L.CheckInt(2)
	d, err := obj.Descriptor(index)
	if err != nil {
		return pushFailure(L, err)
	}
	v, err := luaToValue(L.Get(3), L.OptString(4, ""), d.DisplayType())
	if err != nil {
		return pushFailure(L, err)
	}
	if r := e.service.WriteValue(obj, index, v); !r.OK() {
		return pushFailure(L, r.Err)
	}
	L.Push(lua.LTrue)
	return 1
}

// cosem.invoke(target, method [, value, type]) -> result | nil, err
func cosemInvoke(L *lua.LState, e *Engine) int {
	obj, err := checkObject(L, e, 1)
	if err != nil {
		return pushNil(L, err)
	}
	params, err := luaToValue(L.Get(3), L.OptString(4, ""), dlms.TypeNone)
	if err != nil {
		return pushNil(L, err)
	}
	v, err := e.service.Invoke(obj, L.CheckInt(2), params)
	if err != nil {
		return pushNil(L, err)
	}
	L.Push(valueToLua(L, v))
	return 1
}

// cosem.read(target) runs a read pass and returns the failure count.
func cosemRead(L *lua.LState, e *Engine) int {
	obj, err := checkObject(L, e, 1)
	if err != nil {
		return pushNil(L, err)
	}
	failed := 0
	for _, r := range e.service.ReadPending(obj, false) {
		if !r.OK() {
			failed++
		}
	}
	L.Push(lua.LNumber(failed))
	return 1
}

// cosem.scaled(target) -> number, unit | nil, err
func cosemScaled(L *lua.LState, e *Engine) int {
	obj, err := checkObject(L, e, 1)
	if err != nil {
		return pushNil(L, err)
	}
	s, ok := obj.(scaledObject)
	if !ok {
		return pushNil(L, fmt.Errorf("%s has no scaler", obj.Identity().Type))
	}
	v, unit, err := s.Scaled()
	if err != nil {
		return pushNil(L, err)
	}
	L.Push(lua.LNumber(v))
	L.Push(lua.LString(unit.String()))
	return 2
}

// cosem.objects() -> list of {ln, class_id, type, description}
func cosemObjects(L *lua.LState, e *Engine) int {
	tbl := L.NewTable()
	for i, obj := range e.objects.Sorted() {
		id := obj.Identity()
		o := L.NewTable()
		o.RawSetString("ln", lua.LString(id.LogicalName.String()))
		o.RawSetString("class_id", lua.LNumber(id.ClassID))
		o.RawSetString("type", lua.LString(id.Type.String()))
		o.RawSetString("description", lua.LString(id.Description))
		tbl.RawSetInt(i+1, o)
	}
	L.Push(tbl)
	return 1
}

// cosem.after(seconds, callback) runs callback later on the script's VM.
func cosemAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	seconds := L.CheckNumber(1)
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(time.Duration(float64(seconds) * float64(time.Second)))
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}
		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
				e.logger.Error("after callback error", "err", err)
			}
		}:
		default:
			e.logger.Warn("after: command channel full")
		}
	}()
	return 0
}

func pushNil(L *lua.LState, err error) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(err.Error()))
	return 2
}

func pushFailure(L *lua.LState, err error) int {
	L.Push(lua.LFalse)
	L.Push(lua.LString(err.Error()))
	return 2
}

// valueToLua maps numbers and booleans to their Lua kinds, containers to
// arrays and everything else to its text form.
func valueToLua(L *lua.LState, v dlms.Value) lua.LValue {
	switch v.Type() {
	case dlms.TypeNone:
		return lua.LNil
	case dlms.TypeBoolean:
		b, _ := v.Bool()
		return lua.LBool(b)
	case dlms.TypeArray, dlms.TypeStructure:
		items, _ := v.Items()
		t := L.CreateTable(len(items), 0)
		for i, it := range items {
			t.RawSetInt(i+1, valueToLua(L, it))
		}
		return t
	}
	if n, ok := v.Number(); ok {
		return lua.LNumber(n)
	}
	return lua.LString(v.Text())
}

// luaToValue parses a scalar Lua value as typeName, or as fallback when
// typeName is empty. nil becomes None.
func luaToValue(lv lua.LValue, typeName string, fallback dlms.DataType) (dlms.Value, error) {
	if lv == lua.LNil {
		return dlms.NewNone(), nil
	}
	t := fallback
	if typeName != "" {
		var err error
		if t, err = dlms.ParseTypeName(typeName); err != nil {
			return dlms.Value{}, err
		}
	}
	if t == dlms.TypeNone {
		return dlms.Value{}, fmt.Errorf("%w: type required", dlms.ErrTypeMismatch)
	}
	switch lv.(type) {
	case lua.LNumber, lua.LString, lua.LBool:
	default:
		return dlms.Value{}, fmt.Errorf("%w: cannot convert lua %s", dlms.ErrTypeMismatch, lv.Type())
	}
	return dlms.ParseText(t, lv.String())
}
