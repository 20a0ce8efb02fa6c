//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Registers the sqlite-vec extension with every connection opened by
	// the cgo driver. When this tag is absent Open probes for vec0 and
	// falls back to the brute-force scan.
	vec.Auto()
}
