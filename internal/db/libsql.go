package db

import (
	"database/sql"
	"fmt"
	"net/url"
)

// OpenLibSQL connects to a remote Turso/libSQL database, e.g.
// "libsql://my-db.turso.io". authToken may be empty for local sqld.
func OpenLibSQL(dbURL, authToken string) (*DB, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return nil, fmt.Errorf("invalid libsql url: %w", err)
	}
	if authToken != "" {
		q := u.Query()
		q.Set("authToken", authToken)
		u.RawQuery = q.Encode()
	}

	conn, err := sql.Open("libsql", u.String())
	if err != nil {
		return nil, fmt.Errorf("failed to open libsql database: %w", err)
	}

	// Redact the token from the stored path.
	u.RawQuery = ""
	return newDB(conn, u.String())
}

// OpenDriver dispatches on the configured storage driver.
func OpenDriver(driver, path, dbURL, authToken string) (*DB, error) {
	switch driver {
	case "", "sqlite":
		return Open(path)
	case "libsql":
		if dbURL == "" {
			return nil, fmt.Errorf("libsql driver requires storage.url")
		}
		return OpenLibSQL(dbURL, authToken)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
