//go:build cgo

package store

import (
	// Registers the "sqlite3" driver. FTS5 support requires building with
	// the sqlite_fts5 (or fts5) tag on older toolchains; recent releases
	// compile it in by default.
	_ "github.com/mattn/go-sqlite3"
)

const driverName = "sqlite3"
