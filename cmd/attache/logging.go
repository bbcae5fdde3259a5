package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

func parseLogLevel(raw string) (log.Level, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return log.InfoLevel, nil
	}
	if strings.EqualFold(value, "warning") {
		value = "warn"
	}

	level, err := log.ParseLevel(strings.ToLower(value))
	if err != nil {
		return log.InfoLevel, fmt.Errorf("invalid log level %q", raw)
	}
	return level, nil
}

// configureLogger installs a charmbracelet handler as the slog default.
// The flag level wins over the configured one.
func configureLogger(w io.Writer, flagLevel, configLevel string) error {
	raw := configLevel
	if strings.TrimSpace(flagLevel) != "" {
		raw = flagLevel
	}

	level, err := parseLogLevel(raw)
	if err != nil {
		return err
	}

	handler := log.NewWithOptions(w, log.Options{
		Level:           level,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    level == log.DebugLevel,
	})

	slog.SetDefault(slog.New(handler))
	return nil
}
