package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateCreatesSchema(t *testing.T) {
	db, err := OpenWithMigrations(MemoryPath, nil)
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"schema_migrations", "documents", "document_items", "adapter_calls"} {
		var n int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "table %s should exist", table)
	}

	versions, err := AppliedVersions(db)
	require.NoError(t, err)
	assert.Equal(t, []string{"000", "001", "002", "003"}, versions)
}

func TestMigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tally.db")

	db, err := OpenWithMigrations(path, nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = OpenWithMigrations(path, nil)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(db, nil))
	versions, err := AppliedVersions(db)
	require.NoError(t, err)
	assert.Len(t, versions, 4)
}

func TestSchemaEnforcesErrorMessageInvariant(t *testing.T) {
	db, err := OpenWithMigrations(MemoryPath, nil)
	require.NoError(t, err)
	defer db.Close()

	insert := `INSERT INTO documents (id, file_ref, original_name, file_type, status, error_message, created_at, updated_at)
		VALUES (?, 'f.jpg', 'f.jpg', 'image/jpeg', ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`

	_, err = db.Exec(insert, "a", "error", nil)
	assert.Error(t, err, "error status without a message must be rejected")

	_, err = db.Exec(insert, "b", "pending", "boom")
	assert.Error(t, err, "message on a non-error status must be rejected")

	_, err = db.Exec(insert, "c", "error", "OCR service unavailable")
	assert.NoError(t, err)
}

func TestItemsCascadeWithDocument(t *testing.T) {
	db, err := OpenWithMigrations(MemoryPath, nil)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`INSERT INTO documents (id, file_ref, original_name, file_type, created_at, updated_at)
		VALUES ('d', 'f.jpg', 'f.jpg', 'image/jpeg', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO document_items (document_id, position, name, created_at) VALUES ('d', 0, 'Milk', CURRENT_TIMESTAMP)`)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO document_items (document_id, position, name, created_at) VALUES ('nope', 0, 'Milk', CURRENT_TIMESTAMP)`)
	assert.Error(t, err, "items must belong to an existing document")

	_, err = db.Exec(`DELETE FROM documents WHERE id = 'd'`)
	require.NoError(t, err)
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM document_items`).Scan(&n))
	assert.Zero(t, n)
}
