// Package storage persists the bot's action log and its last-run timestamps so /status
// survives a restart.
//
// Drivers:
//   - "file": JSON Lines action log plus an atomically replaced status snapshot
//   - "sqlite": a SQLite database (modernc.org/sqlite, no cgo)
package storage
