//go:build !no_automation

// Package automation runs user Lua scripts that react to object access
// events. Each enabled script gets its own sandboxed VM; handlers run on
// that VM's goroutine, one at a time.
//
//	cosem.on("attribute_read", {ln = "1.0.1.8.0.255", index = 2}, function(ev)
//	  if ev.scaled > 10000 then
//	    cosem.invoke("0.0.10.0.1.255", 1)
//	  end
//	end)
package automation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"cosem-go/internal/access"
	"cosem-go/internal/cosem"
)

const runTimeout = 5 * time.Second

// RunResult is the outcome of a one-shot script run.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// luaEventHandler is a registered callback and its filter. Zero filter
// fields match anything.
type luaEventHandler struct {
	eventType string
	classID   uint16
	ln        string
	index     int
	fn        *lua.LFunction
}

type scriptVM struct {
	commands chan func(*lua.LState)
	handlers []luaEventHandler
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex // protects handlers
	// logf overrides where cosem.log and system.log go; nil means the engine logger.
	logf func(level, msg string)
}

func (vm *scriptVM) snapshotHandlers() []luaEventHandler {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return append([]luaEventHandler(nil), vm.handlers...)
}

// Engine owns the script VMs and feeds them access events.
type Engine struct {
	objects *cosem.Collection
	service *access.Service
	events  *access.EventBus
	manager *Manager
	logger  *slog.Logger

	systemCfg SystemConfig

	mu    sync.Mutex
	vms   map[string]*scriptVM
	unsub func()
}

// NewEngine creates an engine. events may be nil; scripts then never see events.
func NewEngine(objects *cosem.Collection, service *access.Service, events *access.EventBus, mgr *Manager, logger *slog.Logger, sysCfg SystemConfig) *Engine {
	return &Engine{
		objects:   objects,
		service:   service,
		events:    events,
		manager:   mgr,
		logger:    logger.With("component", "automation"),
		systemCfg: sysCfg,
		vms:       make(map[string]*scriptVM),
	}
}

// Start subscribes to access events and starts every enabled script.
func (e *Engine) Start() {
	if e.events != nil {
		e.unsub = e.events.OnAll(e.dispatchEvent)
	}

	scripts, err := e.manager.List()
	if err != nil {
		e.logger.Error("load scripts", "err", err)
		return
	}
	for _, s := range scripts {
		if !s.Meta.Enabled {
			continue
		}
		if err := e.startScript(s); err != nil {
			e.logger.Error("start script", "id", s.ID, "err", err)
		}
	}

	e.mu.Lock()
	running := len(e.vms)
	e.mu.Unlock()
	e.logger.Info("automation engine started", "scripts", running)
}

// Stop cancels every VM and unsubscribes.
func (e *Engine) Stop() {
	if e.unsub != nil {
		e.unsub()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for id, vm := range e.vms {
		vm.cancel()
		delete(e.vms, id)
	}
	e.logger.Info("automation engine stopped")
}

// ReloadScript restarts a script from disk; a disabled script is just stopped.
func (e *Engine) ReloadScript(id string) error {
	e.stopScript(id)

	s, err := e.manager.Get(id)
	if err != nil {
		return fmt.Errorf("get script: %w", err)
	}
	if !s.Meta.Enabled {
		return nil
	}
	return e.startScript(s)
}

// StopScript stops a running script.
func (e *Engine) StopScript(id string) {
	e.stopScript(id)
}

// Running reports whether id has a live VM.
func (e *Engine) Running(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.vms[id]
	return ok
}

// RunScript dry-runs a stored script; see RunLuaCode.
func (e *Engine) RunScript(id string) *RunResult {
	start := time.Now()
	s, err := e.manager.Get(id)
	if err != nil {
		return &RunResult{Error: err.Error(), Duration: time.Since(start).String()}
	}
	return e.RunLuaCode(s.LuaCode)
}

// RunLuaCode runs code in a throwaway VM, then calls every handler it
// registered once with an event built from the current attribute value.
// Log output is captured in the result.
func (e *Engine) RunLuaCode(code string) *RunResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	var (
		logs  []string
		logMu sync.Mutex
	)
	vm := &scriptVM{
		commands: make(chan func(*lua.LState), 64),
		ctx:      ctx,
		cancel:   cancel,
		logf: func(level, msg string) {
			logMu.Lock()
			defer logMu.Unlock()
			if level != "" && level != "info" {
				msg = "[" + level + "] " + msg
			}
			logs = append(logs, msg)
		},
	}
	L := e.newState(ctx, vm)
	defer L.Close()

	result := func(err error) *RunResult {
		logMu.Lock()
		defer logMu.Unlock()
		r := &RunResult{OK: err == nil, Logs: append([]string{}, logs...), Duration: time.Since(start).String()}
		if err != nil {
			r.Error = runError(err)
		}
		return r
	}

	if err := L.DoString(code); err != nil {
		return result(err)
	}
	for _, h := range vm.snapshotHandlers() {
		ev := e.syntheticEvent(h)
		if err := L.CallByParam(lua.P{Fn: h.fn, NRet: 0, Protect: true}, e.eventTable(L, ev)); err != nil {
			return result(err)
		}
	}
	return result(nil)
}

func runError(err error) string {
	msg := err.Error()
	if strings.Contains(msg, "context deadline exceeded") {
		return fmt.Sprintf("timeout (%s)", runTimeout)
	}
	return msg
}

// syntheticEvent describes the attribute a handler filters on, with its
// current value when the object exists.
func (e *Engine) syntheticEvent(h luaEventHandler) access.Event {
	ev := access.Event{Type: h.eventType, ClassID: h.classID, Index: h.index}
	if h.ln == "" {
		return ev
	}
	obj, ok := e.findObject(h.ln, h.classID)
	if !ok {
		return ev
	}
	id := obj.Identity()
	ev.ClassID, ev.LogicalName = id.ClassID, id.LogicalName
	if ev.Index == 0 && obj.AttributeCount() >= 2 {
		ev.Index = 2
	}
	if ev.Index > 0 {
		if v, err := obj.GetValue(e.service.Settings(), ev.Index); err == nil {
			ev.Value = v
		}
	}
	return ev
}

// newState builds a sandboxed Lua state with the script modules loaded.
func (e *Engine) newState(ctx context.Context, vm *scriptVM) *lua.LState {
	L := lua.NewState()
	for _, name := range []string{"os", "io", "loadfile", "dofile", "require", "load", "debug", "package"} {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetContext(ctx)
	registerCosemModule(L, vm, e)
	registerSystemModule(L, vm, e)
	return L
}

func (e *Engine) stopScript(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if vm, ok := e.vms[id]; ok {
		vm.cancel()
		delete(e.vms, id)
		e.logger.Info("script stopped", "id", id)
	}
}

func (e *Engine) startScript(s *Script) error {
	ctx, cancel := context.WithCancel(context.Background())
	vm := &scriptVM{
		commands: make(chan func(*lua.LState), 64),
		ctx:      ctx,
		cancel:   cancel,
	}
	L := e.newState(ctx, vm)

	if err := L.DoString(s.LuaCode); err != nil {
		cancel()
		L.Close()
		return fmt.Errorf("execute script %s: %w", s.ID, err)
	}

	e.mu.Lock()
	if old, ok := e.vms[s.ID]; ok {
		old.cancel()
	}
	e.vms[s.ID] = vm
	e.mu.Unlock()

	go func() {
		defer L.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-vm.commands:
				fn(L)
			}
		}
	}()

	e.logger.Info("script started", "id", s.ID, "name", s.Meta.Name, "handlers", len(vm.snapshotHandlers()))
	return nil
}

// dispatchEvent queues the event on every VM with a matching handler.
func (e *Engine) dispatchEvent(event access.Event) {
	e.mu.Lock()
	vms := make([]*scriptVM, 0, len(e.vms))
	for _, vm := range e.vms {
		vms = append(vms, vm)
	}
	e.mu.Unlock()

	for _, vm := range vms {
		for _, h := range vm.snapshotHandlers() {
			if !matchesHandler(h, event) {
				continue
			}
			fn := h.fn
			select {
			case <-vm.ctx.Done():
			case vm.commands <- func(L *lua.LState) { e.callHandler(L, fn, event) }:
			default:
				e.logger.Warn("script command channel full, dropping event", "ln", event.LogicalName)
			}
		}
	}
}

func matchesHandler(h luaEventHandler, event access.Event) bool {
	if h.eventType != event.Type {
		return false
	}
	if h.classID != 0 && h.classID != event.ClassID {
		return false
	}
	if h.ln != "" && h.ln != event.LogicalName.String() {
		return false
	}
	return h.index == 0 || h.index == event.Index
}

func (e *Engine) callHandler(L *lua.LState, fn *lua.LFunction, event access.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("lua handler panic", "err", r)
		}
	}()
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, e.eventTable(L, event)); err != nil {
		e.logger.Error("lua handler error", "ln", event.LogicalName, "err", err)
	}
}

// eventTable is the Lua view of an event: type, class_id, ln, index,
// value and value_type, plus name, and scaled and unit for registers.
func (e *Engine) eventTable(L *lua.LState, event access.Event) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("type", lua.LString(event.Type))
	t.RawSetString("class_id", lua.LNumber(event.ClassID))
	t.RawSetString("ln", lua.LString(event.LogicalName.String()))
	t.RawSetString("index", lua.LNumber(event.Index))
	t.RawSetString("value", valueToLua(L, event.Value))
	t.RawSetString("value_type", lua.LString(event.Value.Type().String()))

	obj, ok := e.objects.Find(event.ClassID, event.LogicalName)
	if !ok {
		return t
	}
	if d, err := obj.Descriptor(event.Index); err == nil && event.Type != access.EventMethodInvoked {
		t.RawSetString("name", lua.LString(d.Name))
	}
	if s, ok := obj.(scaledObject); ok {
		if v, unit, err := s.Scaled(); err == nil {
			t.RawSetString("scaled", lua.LNumber(v))
			t.RawSetString("unit", lua.LString(unit.String()))
		}
	}
	return t
}

type scaledObject interface {
	Scaled() (float64, cosem.Unit, error)
}

// findObject resolves a logical name, or failing that a description
// (case-insensitive). classID 0 matches any class.
func (e *Engine) findObject(target string, classID uint16) (cosem.Object, bool) {
	if ln, err := cosem.ParseLogicalName(target); err == nil {
		if classID != 0 {
			return e.objects.Find(classID, ln)
		}
		return e.objects.FindByLogicalName(ln)
	}
	for _, obj := range e.objects.Sorted() {
		id := obj.Identity()
		if classID != 0 && id.ClassID != classID {
			continue
		}
		if id.Description != "" && strings.EqualFold(id.Description, target) {
			return obj, true
		}
	}
	return nil, false
}
