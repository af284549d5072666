package db

import (
	"strings"

	"github.com/teranos/tally/errors"
)

// ErrDatabaseClosed is returned when operations are attempted on a closed
// database, typically while shutting down with executions still finishing.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed checks for both the wrapped sentinel and the raw
// database/sql message, which the driver returns without a typed error.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "sql: database is closed")
}

// IsBusy reports SQLite lock contention that outlived busy_timeout
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
