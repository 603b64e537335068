// Package database provides the SQLite connection used for the mission
// transfer log.
//
// The database is opened once at startup with WAL mode and a busy timeout,
// and shared by any component that records rows. Schema creation is owned
// by the consuming package; there is no migration registry because the
// bridge carries a single append-only table.
package database
