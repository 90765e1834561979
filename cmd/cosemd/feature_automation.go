//go:build !no_automation

package main

import (
	"log/slog"
	"time"

	"cosem-go/internal/access"
	"cosem-go/internal/automation"
	"cosem-go/internal/cosem"
	"cosem-go/internal/web"
)

type autoStopper struct {
	engine *automation.Engine
}

func (a *autoStopper) Stop() {
	if a.engine != nil {
		a.engine.Stop()
	}
}

func initAutomation(objects *cosem.Collection, service *access.Service, events *access.EventBus, cfg *Config, logger *slog.Logger) (*autoStopper, []web.ServerOption) {
	scriptMgr, err := automation.NewManager(cfg.Automation.Dir, logger)
	if err != nil {
		logger.Error("create automation manager", "err", err)
		return &autoStopper{}, nil
	}

	execTimeout := 10 * time.Second
	if cfg.Automation.Exec.Timeout != "" {
		if d, err := time.ParseDuration(cfg.Automation.Exec.Timeout); err == nil {
			execTimeout = d
		} else {
			logger.Warn("invalid automation.exec.timeout, using default", "value", cfg.Automation.Exec.Timeout, "default", execTimeout)
		}
	}

	engine := automation.NewEngine(objects, service, events, scriptMgr, logger, automation.SystemConfig{
		ExecAllowlist: cfg.Automation.Exec.Allowlist,
		ExecTimeout:   execTimeout,
	})
	engine.Start()

	return &autoStopper{engine: engine}, []web.ServerOption{web.WithAutomation(engine, scriptMgr)}
}
