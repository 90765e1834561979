//go:build !no_automation

package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
)

const (
	maxExecOutput      = 64 << 10
	defaultExecTimeout = 10 * time.Second
)

// SystemConfig configures the `system` Lua module.
type SystemConfig struct {
	// ExecAllowlist holds the absolute command paths system.exec may run.
	ExecAllowlist []string
	ExecTimeout   time.Duration
	// Now overrides the clock seen by system.datetime and system.time_between.
	Now func() time.Time
}

func (c SystemConfig) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// registerSystemModule installs the `system` global.
func registerSystemModule(L *lua.LState, vm *scriptVM, e *Engine) {
	L.SetGlobal("system", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"datetime": func(L *lua.LState) int {
			return systemDatetime(L, e.systemCfg.now())
		},
		"time_between": func(L *lua.LState) int {
			return systemTimeBetween(L, e.systemCfg.now())
		},
		"log": func(L *lua.LState) int {
			scriptLog(vm, e, L.CheckString(1), L.CheckString(2))
			return 0
		},
		"exec": func(L *lua.LState) int {
			out, err := e.runCommand(L.CheckString(1))
			if err != nil {
				e.logger.Warn("system.exec", "err", err)
			}
			L.Push(lua.LString(out))
			return 1
		},
	}))
}

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// scriptLog routes a script message to the VM's capture or the engine logger.
// Unknown levels log at info.
func scriptLog(vm *scriptVM, e *Engine, level, msg string) {
	if vm.logf != nil {
		vm.logf(level, msg)
		return
	}
	lvl, ok := logLevels[level]
	if !ok {
		lvl = slog.LevelInfo
	}
	e.logger.Log(context.Background(), lvl, "script log", "msg", msg)
}

var datetimeComponents = map[string]func(time.Time) lua.LValue{
	"hour":      func(t time.Time) lua.LValue { return lua.LNumber(t.Hour()) },
	"minute":    func(t time.Time) lua.LValue { return lua.LNumber(t.Minute()) },
	"second":    func(t time.Time) lua.LValue { return lua.LNumber(t.Second()) },
	"weekday":   func(t time.Time) lua.LValue { return lua.LNumber(t.Weekday()) },
	"day":       func(t time.Time) lua.LValue { return lua.LNumber(t.Day()) },
	"month":     func(t time.Time) lua.LValue { return lua.LNumber(t.Month()) },
	"year":      func(t time.Time) lua.LValue { return lua.LNumber(t.Year()) },
	"timestamp": func(t time.Time) lua.LValue { return lua.LNumber(t.Unix()) },
	"time_str":  func(t time.Time) lua.LValue { return lua.LString(t.Format(time.TimeOnly)) },
	"date_str":  func(t time.Time) lua.LValue { return lua.LString(t.Format(time.DateOnly)) },
}

// system.datetime(component); weekday counts from Sunday = 0.
func systemDatetime(L *lua.LState, now time.Time) int {
	name := L.CheckString(1)
	get, ok := datetimeComponents[name]
	if !ok {
		L.ArgError(1, "unknown component: "+name)
		return 0
	}
	L.Push(get(now))
	return 1
}

// system.time_between(from_hour, to_hour) covers [from, to); to < from
// wraps past midnight.
func systemTimeBetween(L *lua.LState, now time.Time) int {
	from, to := L.CheckInt(1), L.CheckInt(2)
	h := now.Hour()
	in := h >= from && h < to
	if to < from {
		in = h >= from || h < to
	}
	L.Push(lua.LBool(in))
	return 1
}

// runCommand runs an allowlisted absolute command with the configured
// timeout. Blocked and failed commands return "" and the reason.
func (e *Engine) runCommand(cmdline string) (string, error) {
	args := strings.Fields(cmdline)
	if len(args) == 0 {
		return "", errors.New("empty command")
	}
	path := args[0]
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("blocked %q: not an absolute path", path)
	}
	if !slices.Contains(e.systemCfg.ExecAllowlist, path) {
		return "", fmt.Errorf("blocked %q: not in allowlist", path)
	}

	timeout := e.systemCfg.ExecTimeout
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, args[1:]...).Output()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("%s timed out after %s", path, timeout)
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	if len(out) > maxExecOutput {
		out = out[:maxExecOutput]
	}
	return string(out), nil
}
