// Package logx configures xbot's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured and rotated
//   - An optional alert sink (min-level + rate limiting) for operators
package logx
