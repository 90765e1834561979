//go:build no_mqtt

package main

import (
	"log/slog"

	"cosem-go/internal/access"
	"cosem-go/internal/cosem"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *cosem.Collection, _ *access.Service, _ *access.EventBus, _ *Config, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
