//go:build no_automation

package automation

import (
	"errors"
	"log/slog"
	"time"

	"cosem-go/internal/access"
	"cosem-go/internal/cosem"
)

var errDisabled = errors.New("automation disabled")

// ErrScriptNotFound is returned for an id with no file behind it.
var ErrScriptNotFound = errors.New("script not found")

type ScriptMeta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

type Script struct {
	ID       string     `json:"id"`
	Meta     ScriptMeta `json:"meta"`
	LuaCode  string     `json:"lua_code"`
	FilePath string     `json:"-"`
}

type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

type SystemConfig struct {
	ExecAllowlist []string
	ExecTimeout   time.Duration
	Now           func() time.Time
}

// Manager is a no-op when automation is compiled out.
type Manager struct{}

func NewManager(_ string, _ *slog.Logger) (*Manager, error) { return &Manager{}, nil }

func (m *Manager) List() ([]*Script, error) { return nil, nil }
func (m *Manager) Get(_ string) (*Script, error) { return nil, errDisabled }
func (m *Manager) Save(_ *Script) (*Script, error) { return nil, errDisabled }
func (m *Manager) Delete(_ string) error { return errDisabled }

// Engine is a no-op when automation is compiled out.
type Engine struct{}

func NewEngine(_ *cosem.Collection, _ *access.Service, _ *access.EventBus, _ *Manager, _ *slog.Logger, _ SystemConfig) *Engine {
	return &Engine{}
}

func (e *Engine) Start() {}
func (e *Engine) Stop() {}
func (e *Engine) ReloadScript(_ string) error { return nil }
func (e *Engine) StopScript(_ string) {}
func (e *Engine) Running(_ string) bool { return false }

func (e *Engine) RunScript(_ string) *RunResult {
	return &RunResult{Error: errDisabled.Error()}
}

func (e *Engine) RunLuaCode(_ string) *RunResult {
	return &RunResult{Error: errDisabled.Error()}
}
