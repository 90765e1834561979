package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cosem-go/internal/cosem"
	"cosem-go/internal/dlms"
	"cosem-go/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, "mqtt:\n  enabled: false\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Path != "cosem.db" {
		t.Errorf("store.path = %q", cfg.Store.Path)
	}
	if cfg.Session.ClientAddress != 16 || cfg.Session.ServerAddress != 1 {
		t.Errorf("session = %+v", cfg.Session)
	}
	if cfg.MQTT.TopicPrefix != "cosem" || cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.Automation.Dir != "automations" || cfg.ScriptsDir != "scripts" {
		t.Errorf("dirs = %q, %q", cfg.Automation.Dir, cfg.ScriptsDir)
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"mqtt without broker", "mqtt:\n  enabled: true\n", "mqtt.broker"},
		{"bad poll interval", "poll:\n  interval: soon\n", "poll.interval"},
		{"poll too fast", "poll:\n  interval: 10ms\n", "poll.interval"},
		{"bad log level", "log:\n  level: chatty\n", "log.level"},
		{"negative address", "session:\n  client_address: -1\n", "session"},
		{"shared script dirs", "scripts_dir: defs\nautomation:\n  dir: ./defs/\n", "automation.dir"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadConfig(writeConfig(t, tt.body))
			if err != nil {
				t.Fatal(err)
			}
			err = cfg.validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestPollInterval(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, "poll:\n  interval: 30s\n"))
	if err != nil {
		t.Fatal(err)
	}
	d, err := cfg.pollInterval()
	if err != nil || d != 30*time.Second {
		t.Errorf("interval = %v, %v", d, err)
	}
}

func TestLoadSessionSeedsFromConfig(t *testing.T) {
	db, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	cfg, err := loadConfig(writeConfig(t, "session:\n  short_name_referencing: true\n"))
	if err != nil {
		t.Fatal(err)
	}
	state, err := loadSession(db, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !state.ShortNameReferencing || state.ClientAddress != 16 {
		t.Errorf("state = %+v", state)
	}

	// A later config change does not override the stored session.
	cfg.Session.ClientAddress = 32
	state, err = loadSession(db, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if state.ClientAddress != 16 {
		t.Errorf("client address = %d, want stored 16", state.ClientAddress)
	}
}

func TestImportReplacesStoredObjects(t *testing.T) {
	dir := t.TempDir()
	factory := cosem.NewFactory(testLogger())

	objects := cosem.NewCollection()
	d := cosem.NewData(0)
	d.SetLogicalName(cosem.MustLogicalName("0.0.96.1.0.255"))
	d.SetValue(nil, 2, dlms.NewVisibleString("old"))
	if err := objects.Add(d); err != nil {
		t.Fatal(err)
	}

	doc := `<?xml version="1.0" encoding="utf-8"?>
<Objects>
  <Data>
    <LN>0.0.96.1.0.255</LN>
    <value Index="2" Type="string">new</value>
  </Data>
  <Register>
    <LN>1.0.1.8.0.255</LN>
  </Register>
</Objects>
`
	path := filepath.Join(dir, "objects.xml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	n, err := importDocument(path, factory, objects, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || objects.Len() != 2 {
		t.Fatalf("imported %d, collection has %d", n, objects.Len())
	}
	obj, ok := objects.Find(1, cosem.MustLogicalName("0.0.96.1.0.255"))
	if !ok {
		t.Fatal("data object missing")
	}
	if v, _ := obj.GetValue(nil, 2); !dlms.Equal(v, dlms.NewVisibleString("new")) {
		t.Errorf("value = %v, want new", v)
	}

	out := filepath.Join(dir, "export.xml")
	if err := exportDocument(out, objects); err != nil {
		t.Fatal(err)
	}
	again := cosem.NewCollection()
	if n, err := importDocument(out, factory, again, testLogger()); err != nil || n != 2 {
		t.Errorf("re-import = %d, %v", n, err)
	}
}
