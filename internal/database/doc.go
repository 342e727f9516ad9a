// Package database provides PostgreSQL connection pool management for the
// observation journal.
package database
