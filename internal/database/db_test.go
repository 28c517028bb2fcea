package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T, profile DatabaseProfile) *DB {
	t.Helper()

	db, err := New(Config{
		Path:    filepath.Join(t.TempDir(), "test.db"),
		Profile: profile,
		Name:    "test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func TestNewAppliesProfile(t *testing.T) {
	for _, profile := range []DatabaseProfile{ProfileStandard, ProfileLedger, ProfileCache} {
		t.Run(string(profile), func(t *testing.T) {
			db := newTestDB(t, profile)
			assert.Equal(t, profile, db.Profile())

			var mode string
			require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
			assert.Equal(t, "wal", mode)
		})
	}
}

func TestWithTransactionCommit(t *testing.T) {
	db := newTestDB(t, ProfileStandard)
	_, err := db.Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)

	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO items (name) VALUES (?)`, "a")
		return err
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestWithTransactionRollbackOnError(t *testing.T) {
	db := newTestDB(t, ProfileStandard)
	_, err := db.Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO items (name) VALUES (?)`, "a"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&count))
	assert.Equal(t, 0, count, "failed transaction must leave no rows")
}

func TestWithTransactionRecoversPanic(t *testing.T) {
	db := newTestDB(t, ProfileStandard)

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		panic("unexpected")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in transaction")
}

func TestHealthCheck(t *testing.T) {
	db := newTestDB(t, ProfileStandard)
	assert.NoError(t, db.HealthCheck(context.Background()))
	assert.NoError(t, db.QuickCheck(context.Background()))
}

func TestWALCheckpointAndVacuum(t *testing.T) {
	db := newTestDB(t, ProfileStandard)
	_, err := db.Exec(`CREATE TABLE t (v TEXT)`)
	require.NoError(t, err)

	assert.NoError(t, db.WALCheckpoint(""))
	assert.NoError(t, db.Vacuum())
}

func TestBackupTo(t *testing.T) {
	db := newTestDB(t, ProfileStandard)
	_, err := db.Exec(`CREATE TABLE t (v TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO t (v) VALUES ('x')`)
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "backup.db")
	require.NoError(t, db.BackupTo(dest))

	restored, err := New(Config{Path: dest, Name: "restored"})
	require.NoError(t, err)
	defer restored.Close()

	var v string
	require.NoError(t, restored.QueryRow(`SELECT v FROM t`).Scan(&v))
	assert.Equal(t, "x", v)

	// Destination must not be overwritten
	assert.Error(t, db.BackupTo(dest))
}

func TestGetStats(t *testing.T) {
	db := newTestDB(t, ProfileStandard)
	_, err := db.Exec(`CREATE TABLE t (v TEXT)`)
	require.NoError(t, err)

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Greater(t, stats.PageSize, int64(0))
	assert.Greater(t, stats.PageCount, int64(0))
}
