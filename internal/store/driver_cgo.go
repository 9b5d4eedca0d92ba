//go:build cgo

package store

import (
	// mattn/go-sqlite3 registers the "sqlite3" driver; the cgo build
	// uses it so the sqlite-vec extension can load.
	_ "github.com/mattn/go-sqlite3"
)

const driverName = "sqlite3"
