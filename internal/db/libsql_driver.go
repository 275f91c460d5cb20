//go:build cgo

package db

// go-libsql is cgo-only; its "libsql" driver is registered only in cgo builds.
import _ "github.com/tursodatabase/go-libsql"
