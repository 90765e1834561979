package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"cosem-go/internal/access"
	"cosem-go/internal/cosem"
	"cosem-go/internal/script"
	"cosem-go/internal/store"
	"cosem-go/internal/web"
	"cosem-go/internal/xmlstore"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

type Config struct {
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Session struct {
		ClientAddress        int  `yaml:"client_address"`
		ServerAddress        int  `yaml:"server_address"`
		ShortNameReferencing bool `yaml:"short_name_referencing"`
	} `yaml:"session"`
	Import struct {
		Path string `yaml:"path"`
	} `yaml:"import"`
	Export struct {
		Path string `yaml:"path"`
	} `yaml:"export"`
	Poll struct {
		Interval string `yaml:"interval"`
	} `yaml:"poll"`
	Web struct {
		// Listen is the API address; empty disables the server.
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
		Meter       string `yaml:"meter"`
	} `yaml:"mqtt"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Automation struct {
		Dir  string `yaml:"dir"`
		Exec struct {
			// Allowlist holds absolute command paths scripts may run.
			Allowlist []string `yaml:"allowlist"`
			Timeout   string   `yaml:"timeout"`
		} `yaml:"exec"`
	} `yaml:"automation"`
	ScriptsDir string `yaml:"scripts_dir"`
}

func (c *Config) validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Session.ClientAddress < 0 || c.Session.ServerAddress < 0 {
		return fmt.Errorf("session addresses must not be negative")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if c.Automation.Dir != "" && filepath.Clean(c.Automation.Dir) == filepath.Clean(c.ScriptsDir) {
		return fmt.Errorf("automation.dir must differ from scripts_dir")
	}
	if _, err := c.pollInterval(); err != nil {
		return fmt.Errorf("poll.interval: %w", err)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	return nil
}

// pollInterval returns 0 when polling is disabled.
func (c *Config) pollInterval() (time.Duration, error) {
	if c.Poll.Interval == "" || c.Poll.Interval == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Poll.Interval)
	if err != nil {
		return 0, err
	}
	if d < time.Second {
		return 0, fmt.Errorf("must be at least 1s, got %s", d)
	}
	return d, nil
}

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	// Create configured logger.
	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("cosemd starting", "version", version)

	// Load manufacturer class definitions and build the factory over them.
	defs, err := script.LoadDir(cfg.ScriptsDir, logger)
	if err != nil {
		logger.Error("load class definitions", "err", err)
		os.Exit(1)
	}
	factory := cosem.NewFactory(logger, cosem.WithResolver(defs.Resolver()))

	// Open store
	db, err := store.NewBoltStore(cfg.Store.Path, store.WithLogger(logger))
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	session, err := loadSession(db, cfg)
	if err != nil {
		logger.Error("load session", "err", err)
		os.Exit(1)
	}

	objects, err := loadObjects(db, factory, cfg, logger)
	if err != nil {
		logger.Error("load objects", "err", err)
		os.Exit(1)
	}
	logger.Info("objects loaded", "count", objects.Len(), "definitions", defs.Len())

	events := access.NewEventBus(logger)
	service := access.NewService(session.Settings(), events, logger)

	// Start automation engine (no-op when built with no_automation tag).
	auto, autoOpts := initAutomation(objects, service, events, cfg, logger)

	webServer, httpServer := startWeb(objects, service, events, db, cfg, logger, autoOpts...)

	// Start MQTT bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(objects, service, events, cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	interval, _ := cfg.pollInterval()
	done := make(chan struct{})
	go func() {
		defer close(done)
		poll(ctx, objects, service, interval, logger)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	cancel()
	<-done
	auto.Stop()
	mqtt.Stop()
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown", "err", err)
		}
		shutdownCancel()
		webServer.Stop()
	}

	if err := db.SaveCollection(objects); err != nil {
		logger.Error("save objects", "err", err)
	}
	if cfg.Export.Path != "" {
		if err := exportDocument(cfg.Export.Path, objects); err != nil {
			logger.Error("export document", "path", cfg.Export.Path, "err", err)
		} else {
			logger.Info("document exported", "path", cfg.Export.Path, "objects", objects.Len())
		}
	}

	logger.Info("goodbye")
}

// startWeb serves the object API when web.listen is set.
func startWeb(objects *cosem.Collection, service *access.Service, events *access.EventBus, db store.Store, cfg *Config, logger *slog.Logger, extra ...web.ServerOption) (*web.Server, *http.Server) {
	if cfg.Web.Listen == "" {
		return nil, nil
	}
	opts := append([]web.ServerOption{web.WithStore(db), web.WithVersion(version)}, extra...)
	if cfg.Web.APIKey != "" {
		opts = append(opts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		opts = append(opts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webServer := web.NewServer(objects, service, events, logger, opts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()
	return webServer, httpServer
}

// loadSession returns the stored session, seeding it from config on first start.
func loadSession(db store.Store, cfg *Config) (*store.SessionState, error) {
	state, err := db.GetSession()
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	state = &store.SessionState{
		ClientAddress:        cfg.Session.ClientAddress,
		ServerAddress:        cfg.Session.ServerAddress,
		ShortNameReferencing: cfg.Session.ShortNameReferencing,
	}
	if err := db.SaveSession(state); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return state, nil
}

// loadObjects restores stored snapshots, then overlays the import document
// if one is configured. Imported objects replace stored ones with the same
// class and logical name.
func loadObjects(db store.Store, factory *cosem.Factory, cfg *Config, logger *slog.Logger) (*cosem.Collection, error) {
	objects := cosem.NewCollection()
	stored, err := db.ListObjects(factory)
	if err != nil {
		return nil, err
	}
	for _, obj := range stored {
		if err := objects.Add(obj); err != nil {
			return nil, err
		}
	}

	if cfg.Import.Path == "" {
		return objects, nil
	}
	n, err := importDocument(cfg.Import.Path, factory, objects, logger)
	if err != nil {
		return nil, fmt.Errorf("import %s: %w", cfg.Import.Path, err)
	}
	if err := db.SaveCollection(objects); err != nil {
		return nil, fmt.Errorf("save imported objects: %w", err)
	}
	logger.Info("document imported", "path", cfg.Import.Path, "objects", n)
	return objects, nil
}

func importDocument(path string, factory *cosem.Factory, objects *cosem.Collection, logger *slog.Logger) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	objs, err := xmlstore.NewDecoder(f, factory, logger).Decode()
	if err != nil {
		return 0, err
	}
	for _, obj := range objs {
		id := obj.Identity()
		if prev, ok := objects.Find(id.ClassID, id.LogicalName); ok {
			objects.Remove(prev)
		}
		if err := objects.Add(obj); err != nil {
			return 0, err
		}
	}
	return len(objs), nil
}

func exportDocument(path string, objects *cosem.Collection) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := xmlstore.NewEncoder(f).Encode(objects.Sorted()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// poll runs a read pass over every object each interval so dynamic values
// reach event subscribers. interval 0 disables polling.
func poll(ctx context.Context, objects *cosem.Collection, service *access.Service, interval time.Duration, logger *slog.Logger) {
	if interval == 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		failed := 0
		for _, obj := range objects.Sorted() {
			for _, r := range service.ReadPending(obj, false) {
				if !r.OK() {
					failed++
					logger.Debug("poll read failed", "ln", obj.Identity().LogicalName, "index", r.Index, "err", r.Err)
				}
			}
		}
		if failed > 0 {
			logger.Warn("poll pass had failures", "failed", failed)
		}
	}
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "cosem.db"
	}
	if cfg.Session.ClientAddress == 0 {
		cfg.Session.ClientAddress = 16
	}
	if cfg.Session.ServerAddress == 0 {
		cfg.Session.ServerAddress = 1
	}
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = "scripts"
	}
	if cfg.Automation.Dir == "" {
		cfg.Automation.Dir = "automations"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "cosem"
	}
	if cfg.MQTT.Meter == "" {
		cfg.MQTT.Meter = "meter"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
