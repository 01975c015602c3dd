package app

import (
	"strings"

	"github.com/charlesng35/flowcache/pkg/logger"
)

// ConfigureLogging initialises the global logger with the provided level, defaulting to info.
// An empty encoding selects JSON.
func ConfigureLogging(level, encoding string) error {
	level = strings.TrimSpace(level)
	if level == "" {
		level = "info"
	}
	if strings.TrimSpace(encoding) == "" {
		encoding = "json"
	}
	return logger.InitWithEncoding(level, encoding)
}
