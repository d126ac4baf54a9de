// Package logging provides centralized logging for kasalink.
//
// Logging is silent by default so CLI output stays clean. Set the
// KASALINK_LOG_LEVEL environment variable to "debug", "info", "warn",
// or "error" to enable structured zap output on stdout.
//
// The package wraps a global zap logger behind package-level functions:
//
//	logging.Info("discovery finished", zap.Int("devices", n))
//	logging.LogRawBytes("udp reply", buf)
//
// LogRawBytes emits hex and ASCII dumps at debug level, which is the
// quickest way to inspect the obfuscated wire traffic when a device
// misbehaves.
package logging
