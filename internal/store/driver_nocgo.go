//go:build !cgo

package store

import (
	// modernc.org/sqlite registers the pure-Go "sqlite" driver, which
	// keeps cross-compiled builds working without a C toolchain.
	_ "modernc.org/sqlite"
)

const driverName = "sqlite"
