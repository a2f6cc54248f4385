// Package rlog wires up structured logging for the daemon on top of
// github.com/ethereum/go-ethereum/log, with optional rotation via
// gopkg.in/natefinch/lumberjack.v2 when a log file path is configured.
package rlog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where logs go and how verbose they are.
type Config struct {
	// Level is one of: trace, debug, info, warn, error, crit.
	Level string
	// FilePath, if non-empty, rotates log output through lumberjack
	// instead of stderr.
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Init installs the root logger used by every component. Call once at
// startup, before any goroutine is spawned.
func Init(cfg Config) error {
	lvl, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stderr
	if cfg.FilePath != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 28),
		}
	}

	glog := log.NewGlogHandler(log.NewTerminalHandlerWithLevel(out, lvl, false))
	glog.Verbosity(lvl)
	log.SetDefault(log.NewLogger(glog))
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return log.LevelInfo, nil
	case "trace":
		return log.LevelTrace, nil
	case "debug":
		return log.LevelDebug, nil
	case "warn":
		return log.LevelWarn, nil
	case "error":
		return log.LevelError, nil
	case "crit":
		return log.LevelCrit, nil
	default:
		return log.LevelInfo, fmt.Errorf("rlog: invalid level %q", s)
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// New returns a component-scoped logger carrying a fixed "component" field.
func New(component string) log.Logger {
	return log.New("component", component)
}
