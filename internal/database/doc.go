// Package database provides the PostgreSQL connection pool used by the
// connection journal.
package database
