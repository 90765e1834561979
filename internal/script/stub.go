//go:build no_scripts

package script

import (
	"log/slog"

	"cosem-go/internal/cosem"
)

// Definitions is a no-op stub when scripting is disabled.
type Definitions struct{}

// LoadDir returns an empty set when scripting is disabled.
func LoadDir(_ string, logger *slog.Logger) (*Definitions, error) {
	logger.Info("definition scripts disabled")
	return &Definitions{}, nil
}

// Len returns 0.
func (d *Definitions) Len() int { return 0 }

// Resolver returns nil, leaving unknown classes generic.
func (d *Definitions) Resolver() cosem.Resolver { return nil }
