package db

import (
	"database/sql"
	"net/url"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/teranos/tally/errors"
)

// MemoryPath opens a private in-memory database, used by tests.
const MemoryPath = ":memory:"

// Open opens a SQLite database at the specified path.
//
// Connection settings go in the DSN rather than one-off PRAGMA statements
// because database/sql pools connections and foreign_keys/busy_timeout are
// per-connection. Transactions take the write lock up front (_txlock=immediate)
// so concurrent read-then-write transactions wait on busy_timeout instead of
// failing with SQLITE_BUSY.
// If logger is provided, logs database operations; otherwise operates silently.
func Open(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	if logger != nil {
		logger.Debugw("Opening database", "path", path)
	}

	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if path == MemoryPath {
		// Every pooled connection to :memory: would be a different database
		db.SetMaxOpenConns(1)
	} else {
		// WAL persists in the file, so once is enough
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "failed to enable WAL mode")
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to connect to database %s", path)
	}

	if logger != nil {
		logger.Infow("Database opened",
			"path", path,
			"wal_mode", path != MemoryPath,
			"foreign_keys", true,
		)
	}

	return db, nil
}

// OpenWithMigrations opens the database and brings its schema up to date
func OpenWithMigrations(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	db, err := Open(path, logger)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, logger); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to migrate database %s", path)
	}
	return db, nil
}

func dsn(path string) string {
	params := url.Values{}
	params.Set("_foreign_keys", "on")
	params.Set("_busy_timeout", "5000")
	params.Set("_txlock", "immediate")

	if path == MemoryPath {
		return "file::memory:?" + params.Encode()
	}
	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + params.Encode()
	}
	return "file:" + path + "?" + params.Encode()
}
