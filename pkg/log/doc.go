// Package log provides evtap's structured logging facade.
//
// The package exposes a small Logger interface with leveled methods and a
// simple Field type for structured context. Output flows through a
// Formatter (text or JSON) into one or more Outputs (console by default).
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("reader"), log.Str("partition", "3"))
//	l.Info("resumed from checkpoint", log.Uint64("seq", 81))
//
// Use ApplyConfig to build a logger from a declarative Config, and
// RedirectStdLog to route stdlib log output (Pebble uses it) through the
// same pipeline.
package log
