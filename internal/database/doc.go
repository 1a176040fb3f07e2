// Package database manages the TimescaleDB connection pool used by the
// recorder. The streaming client itself never touches a database.
package database
