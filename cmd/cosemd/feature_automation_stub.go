//go:build no_automation

package main

import (
	"log/slog"

	"cosem-go/internal/access"
	"cosem-go/internal/cosem"
	"cosem-go/internal/web"
)

type autoStopper struct{}

func (a *autoStopper) Stop() {}

func initAutomation(_ *cosem.Collection, _ *access.Service, _ *access.EventBus, _ *Config, _ *slog.Logger) (*autoStopper, []web.ServerOption) {
	return &autoStopper{}, nil
}
