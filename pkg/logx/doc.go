// Package logx configures fichabot's structured logging.
//
// It is a small wrapper (logx.Logger) on top of zerolog that keeps:
//   - Console output readable (short timestamp, key=value fields)
//   - File output JSON-structured
//   - An optional Telegram sink (min-level + rate limiting) so warnings
//     reach the owner chat without spamming it
package logx
