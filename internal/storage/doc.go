// Package storage is the durable store behind the TTL cache and the task queue.
//
// Drivers:
//   - "sqlite": SQLite database file (default)
//   - "badger": BadgerDB directory
//   - "memory": in-memory BadgerDB, nothing survives the process
package storage
