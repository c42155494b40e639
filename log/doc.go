// Package log provides the leveled logging facade used across Lorebook.
//
// Every service in the library (memory store, conversation manager, context
// assembler) reports through the Logger interface defined here, so callers
// can route output into whatever logging setup the host application uses.
//
// # Log Levels
//
// Five levels, in order of increasing severity:
//
//   - LogLevelDebug: detailed debugging information
//   - LogLevelInfo: general informational messages about normal operation
//   - LogLevelWarn: potentially problematic situations, e.g. a provider
//     call that succeeded only after retries
//   - LogLevelError: failures that need attention
//   - LogLevelNone: disables all output
//
// # Example Usage
//
//	logger := log.NewDefaultLogger(log.LogLevelInfo)
//	logger.Info("memory store ready, %d entries indexed", n)
//	logger.Warn("embedder slow: attempt %d took %v", attempt, elapsed)
//	logger.Error("summarization failed: %v", err)
//
// # golog Integration
//
// GologLogger adapts a kataras/golog logger to the Logger interface:
//
//	glogger := golog.New()
//	glogger.SetPrefix("[campaign] ")
//	logger := log.NewGologLogger(glogger)
//	logger.SetLevel(log.LogLevelDebug)
//
// # Package-Level Logger
//
// A package-level default (stderr, info level) backs the free functions
// Debug/Info/Warn/Error, and is what components use when their Config does
// not supply a Logger. Replace it with SetDefaultLogger or SetLogLevel.
package log
