// Package log provides driftq's structured logging facade.
//
// The package exposes a small Logger interface with leveled methods and a
// Field type for structured context. It is backed by the standard library
// slog so handlers and levels compose with the wider ecosystem, while all
// driftq code stays against this facade.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormat(log.TextFormat),
//	)
//	l = l.With(log.Component("query"))
//	l.Info("stream opened", log.Str("persistence_id", "user-1"))
package log
