//go:build !no_automation

package automation

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"

	"cosem-go/internal/access"
	"cosem-go/internal/cosem"
	"cosem-go/internal/dlms"
)

const (
	energyLN = "1.0.1.8.0.255"
	flagLN   = "0.0.96.1.0.255"
)

type testEnv struct {
	engine  *Engine
	manager *Manager
	service *access.Service
	reg     *cosem.Register
	data    *cosem.Data
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := testLogger()

	reg := cosem.NewRegister(0)
	if err := reg.SetLogicalName(cosem.MustLogicalName(energyLN)); err != nil {
		t.Fatal(err)
	}
	reg.SetDescription("Active energy import")
	if err := reg.SetValue(nil, 2, dlms.NewUInt32(1500)); err != nil {
		t.Fatal(err)
	}
	if err := reg.SetValue(nil, 3, cosem.ScalerUnit{Scaler: 0, Unit: cosem.UnitWattHour}.Value()); err != nil {
		t.Fatal(err)
	}
	data := cosem.NewData(0)
	if err := data.SetLogicalName(cosem.MustLogicalName(flagLN)); err != nil {
		t.Fatal(err)
	}

	objects := cosem.NewCollection()
	for _, obj := range []cosem.Object{reg, data} {
		if err := objects.Add(obj); err != nil {
			t.Fatal(err)
		}
	}

	events := access.NewEventBus(logger)
	service := access.NewService(nil, events, logger)
	mgr, err := NewManager(filepath.Join(t.TempDir(), "automations"), logger)
	if err != nil {
		t.Fatal(err)
	}
	e := NewEngine(objects, service, events, mgr, logger, SystemConfig{})
	t.Cleanup(e.Stop)
	return &testEnv{engine: e, manager: mgr, service: service, reg: reg, data: data}
}

func TestMatchesHandler(t *testing.T) {
	ln := cosem.MustLogicalName(energyLN)
	ev := access.Event{Type: access.EventAttributeRead, ClassID: 3, LogicalName: ln, Index: 2}

	tests := []struct {
		name string
		h    luaEventHandler
		want bool
	}{
		{"type only", luaEventHandler{eventType: access.EventAttributeRead}, true},
		{"wrong type", luaEventHandler{eventType: access.EventAttributeWritten}, false},
		{"class match", luaEventHandler{eventType: access.EventAttributeRead, classID: 3}, true},
		{"class mismatch", luaEventHandler{eventType: access.EventAttributeRead, classID: 1}, false},
		{"ln match", luaEventHandler{eventType: access.EventAttributeRead, ln: energyLN}, true},
		{"ln mismatch", luaEventHandler{eventType: access.EventAttributeRead, ln: flagLN}, false},
		{"index match", luaEventHandler{eventType: access.EventAttributeRead, index: 2}, true},
		{"index mismatch", luaEventHandler{eventType: access.EventAttributeRead, index: 3}, false},
		{"all filters", luaEventHandler{eventType: access.EventAttributeRead, classID: 3, ln: energyLN, index: 2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchesHandler(tt.h, ev); got != tt.want {
				t.Errorf("matchesHandler = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValueToLua(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	if v := valueToLua(L, dlms.NewNone()); v != lua.LNil {
		t.Errorf("none = %v, want nil", v)
	}
	if v := valueToLua(L, dlms.NewBool(true)); v != lua.LTrue {
		t.Errorf("bool = %v, want true", v)
	}
	if v, ok := valueToLua(L, dlms.NewInt16(-7)).(lua.LNumber); !ok || v != -7 {
		t.Errorf("int16 = %v", v)
	}
	if v := valueToLua(L, dlms.NewVisibleString("abc")); v != lua.LString("abc") {
		t.Errorf("string = %v", v)
	}
	tbl, ok := valueToLua(L, dlms.NewStructure(dlms.NewInt8(-1), dlms.NewEnum(30))).(*lua.LTable)
	if !ok || tbl.Len() != 2 {
		t.Fatalf("structure = %v", tbl)
	}
	if tbl.RawGetInt(2) != lua.LNumber(30) {
		t.Errorf("structure[2] = %v", tbl.RawGetInt(2))
	}
}

func TestLuaToValue(t *testing.T) {
	v, err := luaToValue(lua.LNumber(42), "uint16", dlms.TypeNone)
	if err != nil || v.Type() != dlms.TypeUInt16 {
		t.Fatalf("uint16: %v %v", v, err)
	}
	if n, _ := v.Uint(); n != 42 {
		t.Errorf("uint16 = %d", n)
	}

	v, err = luaToValue(lua.LNumber(9), "", dlms.TypeInt32)
	if err != nil || v.Type() != dlms.TypeInt32 {
		t.Errorf("fallback: %v %v", v, err)
	}

	if v, err := luaToValue(lua.LNil, "", dlms.TypeNone); err != nil || !v.IsNone() {
		t.Errorf("nil: %v %v", v, err)
	}
	if _, err := luaToValue(lua.LNumber(1), "", dlms.TypeNone); err == nil {
		t.Error("missing type accepted")
	}
	if _, err := luaToValue(lua.LNumber(1), "quaternion", dlms.TypeNone); err == nil {
		t.Error("unknown type accepted")
	}
	if _, err := luaToValue(&lua.LTable{}, "uint8", dlms.TypeNone); err == nil {
		t.Error("table accepted")
	}
}

func TestRunLuaCodeHandlers(t *testing.T) {
	env := newTestEnv(t)
	res := env.engine.RunLuaCode(`
cosem.log("start")
system.log("warn", "careful")
cosem.on("attribute_read", {ln = "1.0.1.8.0.255"}, function(ev)
  cosem.log(ev.name .. "=" .. tostring(ev.value) .. " " .. ev.unit .. " " .. ev.value_type)
end)
`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	want := []string{"start", "[warn] careful", "value=1500 Wh uint32"}
	if strings.Join(res.Logs, "|") != strings.Join(want, "|") {
		t.Errorf("logs = %q, want %q", res.Logs, want)
	}
}

func TestRunLuaCodeAccess(t *testing.T) {
	env := newTestEnv(t)
	res := env.engine.RunLuaCode(`
assert(cosem.set("active energy import", 2, 1600))
cosem.log(tostring(cosem.get("1.0.1.8.0.255", 2)))
local n, unit = cosem.scaled("1.0.1.8.0.255")
cosem.log(tostring(n) .. unit)
cosem.invoke("1.0.1.8.0.255", 1)
cosem.log(tostring(cosem.get("1.0.1.8.0.255", 2)))
local v, err = cosem.get("9.9.9.9.9.9", 2)
cosem.log(tostring(v) .. " " .. err)
local ok, err2 = cosem.set("1.0.1.8.0.255", 3, 1)
cosem.log(tostring(ok))
cosem.log(tostring(#cosem.objects()))
cosem.log(tostring(os))
`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	want := []string{
		"1600",
		"1600Wh",
		"0",
		"nil object not found: 9.9.9.9.9.9",
		"false",
		"2",
		"nil",
	}
	if strings.Join(res.Logs, "|") != strings.Join(want, "|") {
		t.Errorf("logs = %q, want %q", res.Logs, want)
	}
	if v, _ := env.reg.GetValue(nil, 2); v.Text() != "0" {
		t.Errorf("register after reset = %s", v.Text())
	}
}

func TestRunLuaCodeError(t *testing.T) {
	env := newTestEnv(t)
	if res := env.engine.RunLuaCode(`this is not lua`); res.OK || res.Error == "" {
		t.Errorf("syntax error not reported: %+v", res)
	}
	res := env.engine.RunLuaCode(`cosem.on("attribute_read", function(ev) error("boom") end)`)
	if res.OK || !strings.Contains(res.Error, "boom") {
		t.Errorf("handler error not reported: %+v", res)
	}
}

func TestRunScriptNotFound(t *testing.T) {
	env := newTestEnv(t)
	if res := env.engine.RunScript("missing"); res.OK {
		t.Error("missing script ran")
	}
}

func TestEngineDispatchesEvents(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.manager.Save(&Script{
		ID:   "mirror",
		Meta: ScriptMeta{Name: "Mirror", Enabled: true},
		LuaCode: `
cosem.on("attribute_written", {ln = "1.0.1.8.0.255", index = 2}, function(ev)
  cosem.set("0.0.96.1.0.255", 2, ev.value * 2, "uint32")
end)`,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.manager.Save(&Script{ID: "idle", Meta: ScriptMeta{Name: "Idle"}}); err != nil {
		t.Fatal(err)
	}

	env.engine.Start()
	if !env.engine.Running("mirror") {
		t.Fatal("enabled script not running")
	}
	if env.engine.Running("idle") {
		t.Error("disabled script running")
	}

	if r := env.service.WriteValue(env.reg, 2, dlms.NewUInt32(10)); !r.OK() {
		t.Fatal(r.Err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		v, _ := env.data.GetValue(nil, 2)
		if n, _ := v.Uint(); n == 20 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("handler did not run, data = %s", v.Text())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEngineReloadAndStop(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.manager.Save(&Script{ID: "toggle", Meta: ScriptMeta{Name: "Toggle", Enabled: true}})
	if err != nil {
		t.Fatal(err)
	}
	env.engine.Start()
	if !env.engine.Running("toggle") {
		t.Fatal("script not running")
	}

	s.Meta.Enabled = false
	if _, err := env.manager.Save(s); err != nil {
		t.Fatal(err)
	}
	if err := env.engine.ReloadScript("toggle"); err != nil {
		t.Fatal(err)
	}
	if env.engine.Running("toggle") {
		t.Error("disabled script still running after reload")
	}

	s.Meta.Enabled = true
	env.manager.Save(s)
	if err := env.engine.ReloadScript("toggle"); err != nil {
		t.Fatal(err)
	}
	env.engine.StopScript("toggle")
	if env.engine.Running("toggle") {
		t.Error("script running after StopScript")
	}

	if err := env.engine.ReloadScript("missing"); err == nil {
		t.Error("reload of missing script succeeded")
	}
}

func TestEngineSkipsBrokenScript(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.manager.Save(&Script{ID: "broken", Meta: ScriptMeta{Enabled: true}, LuaCode: "error('no')"}); err != nil {
		t.Fatal(err)
	}
	env.engine.Start()
	if env.engine.Running("broken") {
		t.Error("failing script reported running")
	}
}

func TestFindObject(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		target  string
		classID uint16
		want    bool
	}{
		{energyLN, 0, true},
		{energyLN, 3, true},
		{energyLN, 1, false},
		{"ACTIVE ENERGY IMPORT", 0, true},
		{"Active energy import", 1, false},
		{"nothing", 0, false},
	}
	for _, tt := range tests {
		if _, ok := env.engine.findObject(tt.target, tt.classID); ok != tt.want {
			t.Errorf("findObject(%q, %d) = %v, want %v", tt.target, tt.classID, ok, tt.want)
		}
	}
}
