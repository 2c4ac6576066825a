// Package database wraps the SQLite connection used for the device event
// journal. It owns connection setup (WAL mode, busy timeout, restrictive
// file permissions) and applies embedded schema migrations on startup.
package database
