package log

import (
	"fmt"
	stdlog "log"
	"strings"
)

// Config declares logger construction from level/format strings.
type Config struct {
	Level  string
	Format string // text|json
}

// ApplyConfig builds a Logger from a declarative Config.
func ApplyConfig(cfg *Config) (Logger, error) {
	level, err := ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, err
	}
	var formatter Formatter
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		formatter = &TextFormatter{}
	case "json":
		formatter = &JSONFormatter{}
	default:
		return nil, fmt.Errorf("log: unknown format %q", cfg.Format)
	}
	return NewLogger(WithLevel(level), WithFormatter(formatter), WithOutput(NewConsoleOutput())), nil
}

// stdWriter adapts Logger to io.Writer for stdlib log redirection.
type stdWriter struct{ logger Logger }

func (w stdWriter) Write(p []byte) (int, error) {
	w.logger.Info(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// RedirectStdLog routes standard library logs (Pebble uses them) through the
// provided Logger.
func RedirectStdLog(logger Logger) {
	stdlog.SetFlags(0)
	stdlog.SetOutput(stdWriter{logger: logger.WithComponent("stdlog")})
}
