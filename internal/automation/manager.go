//go:build !no_automation

package automation

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// ErrScriptNotFound is returned for an id with no file behind it.
var ErrScriptNotFound = errors.New("script not found")

const metaPrefix = "-- {"

// validScriptID checks that id is safe to use as a file name stem.
func validScriptID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, "/\\") && !strings.Contains(id, "..")
}

// Manager stores automation scripts as files in one directory.
type Manager struct {
	dir    string
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewManager creates a manager rooted at dir, creating the directory.
func NewManager(dir string, logger *slog.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create automations dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{dir: dir, logger: logger.With("component", "automation")}, nil
}

// List returns every script in the directory ordered by id. Unreadable
// files are skipped.
func (m *Manager) List() ([]*Script, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read automations dir: %w", err)
	}

	var scripts []*Script
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".lua") {
			continue
		}
		s, err := m.parseFile(filepath.Join(m.dir, e.Name()))
		if err != nil {
			m.logger.Warn("skipping script", "file", e.Name(), "err", err)
			continue
		}
		scripts = append(scripts, s)
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].ID < scripts[j].ID })
	return scripts, nil
}

// Get returns one script by id.
func (m *Manager) Get(id string) (*Script, error) {
	if !validScriptID(id) {
		return nil, fmt.Errorf("invalid script id: %q", id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, err := m.parseFile(filepath.Join(m.dir, id+".lua"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrScriptNotFound, id)
	}
	return s, err
}

// Save writes s. A script without an id gets one derived from its name,
// made unique within the directory.
func (m *Manager) Save(s *Script) (*Script, error) {
	if s.ID != "" && !validScriptID(s.ID) {
		return nil, fmt.Errorf("invalid script id: %q", s.ID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ID == "" {
		base := slugify(s.Meta.Name)
		if base == "" {
			base = "automation"
		}
		s.ID = base
		for i := 1; ; i++ {
			if _, err := os.Stat(filepath.Join(m.dir, s.ID+".lua")); os.IsNotExist(err) {
				break
			}
			s.ID = fmt.Sprintf("%s_%d", base, i)
		}
	}

	s.FilePath = filepath.Join(m.dir, s.ID+".lua")
	if err := writeFileAtomic(s.FilePath, serializeScript(s)); err != nil {
		return nil, fmt.Errorf("write script: %w", err)
	}
	return s, nil
}

// writeFileAtomic replaces path via a temp file so a running List never
// sees a half-written script.
func writeFileAtomic(path, content string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".script-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Delete removes a script by id.
func (m *Manager) Delete(id string) error {
	if !validScriptID(id) {
		return fmt.Errorf("invalid script id: %q", id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	err := os.Remove(filepath.Join(m.dir, id+".lua"))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrScriptNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("delete script: %w", err)
	}
	return nil
}

// parseFile splits a script file into its metadata line and Lua body.
// A file without a metadata line is a disabled script named after its id.
func (m *Manager) parseFile(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	id := strings.TrimSuffix(filepath.Base(path), ".lua")
	s := &Script{ID: id, FilePath: path, Meta: ScriptMeta{Name: id}}

	body := string(data)
	if first, rest, _ := strings.Cut(body, "\n"); strings.HasPrefix(first, metaPrefix) {
		if err := json.Unmarshal([]byte(strings.TrimPrefix(first, "-- ")), &s.Meta); err != nil {
			return nil, fmt.Errorf("metadata: %w", err)
		}
		body = rest
	}
	s.LuaCode = strings.TrimLeft(body, "\n")
	return s, nil
}

// serializeScript renders the metadata comment line, a blank line and the
// body. An empty body leaves just the metadata line.
func serializeScript(s *Script) string {
	meta, _ := json.Marshal(s.Meta)
	out := "-- " + string(meta) + "\n"
	if s.LuaCode == "" {
		return out
	}
	body := s.LuaCode
	if !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	return out + "\n" + body
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.Trim(slugRe.ReplaceAllString(s, "_"), "_")
	if len(s) > 40 {
		s = s[:40]
	}
	return s
}
