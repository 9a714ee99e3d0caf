package statebus

import (
	"log/slog"

	"github.com/e7canasta/reelcore/modules/statebus/internal/bus"
)

// New creates a new Bus. Listener panics are logged on logger (slog.Default() if nil).
func New(logger *slog.Logger) Bus {
	return bus.New(logger)
}
