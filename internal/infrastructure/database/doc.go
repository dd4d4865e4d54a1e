// Package database provides the SQLite persistence layer for fleetgate.
//
// It wraps database/sql with SQLite-specific configuration (WAL mode,
// busy timeout, foreign keys) and a single-writer connection pool tuned
// for SQLite's locking model. Schema changes are applied through embedded
// migrations; see Migrate.
//
// The database holds the device inventory and operator accounts. Runtime
// state (connectivity, telemetry) lives in memory and is never persisted.
package database
