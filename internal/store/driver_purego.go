//go:build !cgo

package store

import (
	// Pure-Go fallback so the daemon still runs where cgo is unavailable.
	// FTS5 is compiled into modernc builds; the vec0 extension is not,
	// so vector search degrades to the in-process scan.
	_ "modernc.org/sqlite"
)

const driverName = "sqlite"
