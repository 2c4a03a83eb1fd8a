// Package database manages the GORM connection pool used by the SQLite
// result store. This package is internal and should not be imported by
// external projects.
package database
