package app

import (
	"strings"

	"github.com/finovant/paydesk/pkg/logger"
)

// ConfigureLogging wires the global zap logger to the configured level. An
// empty level means info.
func ConfigureLogging(level string) error {
	level = strings.TrimSpace(level)
	if level == "" {
		level = "info"
	}
	return logger.Init(level)
}
