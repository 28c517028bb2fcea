package backup

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bleakplain/etf-arb-tracker/internal/database"
)

type memStorage struct {
	mu        sync.Mutex
	objects   map[string][]byte
	mtimes    map[string]time.Time
	deleted   []string
	uploadErr error
}

func newMemStorage() *memStorage {
	return &memStorage{
		objects: make(map[string][]byte),
		mtimes:  make(map[string]time.Time),
	}
}

func (m *memStorage) Upload(_ context.Context, key string, body io.Reader) error {
	if m.uploadErr != nil {
		return m.uploadErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[key] = data
	m.mtimes[key] = time.Now()
	m.mu.Unlock()
	return nil
}

func (m *memStorage) List(_ context.Context, prefix string) ([]Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Object
	for key, data := range m.objects {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			out = append(out, Object{Key: key, Size: int64(len(data)), LastModified: m.mtimes[key]})
		}
	}
	return out, nil
}

func (m *memStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	delete(m.mtimes, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *memStorage) seed(key string, age time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = []byte("old archive")
	m.mtimes[key] = time.Now().Add(-age)
}

func newTestService(t *testing.T, store Storage, retentionDays int) (*Service, string) {
	t.Helper()
	dir := t.TempDir()

	db, err := database.New(database.Config{
		Path:    filepath.Join(dir, "signals.db"),
		Profile: database.ProfileLedger,
		Name:    "signals",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec("CREATE TABLE signals (id INTEGER PRIMARY KEY, stock_code TEXT)")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO signals (stock_code) VALUES ('600036'), ('000661')")
	require.NoError(t, err)

	mappingPath := filepath.Join(dir, "mapping.json")
	svc := NewService(Options{
		DB:            db,
		MappingPath:   mappingPath,
		Store:         store,
		RetentionDays: retentionDays,
		Log:           zerolog.Nop(),
	})
	return svc, mappingPath
}

func extractArchive(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer gz.Close()

	files := make(map[string][]byte)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[hdr.Name] = content
	}
	return files
}

func TestRunUploadsArchive(t *testing.T) {
	store := newMemStorage()
	svc, mappingPath := newTestService(t, store, 30)
	require.NoError(t, os.WriteFile(mappingPath, []byte(`{"etf_holdings":{}}`), 0644))

	require.NoError(t, svc.Run(context.Background()))

	require.Len(t, store.objects, 1)
	var name string
	for key := range store.objects {
		name = key
	}
	assert.Regexp(t, regexp.MustCompile(`^etfarb-backup-\d{8}-\d{6}\.tar\.gz$`), name)

	files := extractArchive(t, store.objects[name])
	require.Contains(t, files, "signals.db")
	require.Contains(t, files, "mapping.json")
	require.Contains(t, files, "metadata.json")

	var m manifest
	require.NoError(t, json.Unmarshal(files["metadata.json"], &m))
	require.Len(t, m.Files, 2)
	assert.False(t, m.CreatedAt.IsZero())

	byName := make(map[string]manifestFile)
	for _, f := range m.Files {
		byName[f.Name] = f
	}
	for _, staged := range []string{"signals.db", "mapping.json"} {
		entry, ok := byName[staged]
		require.True(t, ok, "manifest misses %s", staged)
		sum := sha256.Sum256(files[staged])
		assert.Equal(t, hex.EncodeToString(sum[:]), entry.SHA256)
		assert.Equal(t, int64(len(files[staged])), entry.Size)
	}
}

func TestRunArchivedLedgerIsQueryable(t *testing.T) {
	store := newMemStorage()
	svc, _ := newTestService(t, store, 30)

	require.NoError(t, svc.Run(context.Background()))

	var data []byte
	for _, b := range store.objects {
		data = b
	}
	files := extractArchive(t, data)

	restored := filepath.Join(t.TempDir(), "restored.db")
	require.NoError(t, os.WriteFile(restored, files["signals.db"], 0644))

	db, err := sql.Open("sqlite", restored)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM signals").Scan(&count))
	assert.Equal(t, 2, count)
}

func TestRunWithoutMappingDocument(t *testing.T) {
	store := newMemStorage()
	svc, _ := newTestService(t, store, 30)

	require.NoError(t, svc.Run(context.Background()))

	var data []byte
	for _, b := range store.objects {
		data = b
	}
	files := extractArchive(t, data)
	assert.Contains(t, files, "signals.db")
	assert.NotContains(t, files, "mapping.json")

	var m manifest
	require.NoError(t, json.Unmarshal(files["metadata.json"], &m))
	assert.Len(t, m.Files, 1)
}

func TestRunUploadFailure(t *testing.T) {
	store := newMemStorage()
	store.uploadErr = assert.AnError
	svc, _ := newTestService(t, store, 30)

	err := svc.Run(context.Background())
	assert.ErrorContains(t, err, "upload archive")
}

func TestRotateDeletesExpiredBeyondMinimum(t *testing.T) {
	store := newMemStorage()
	svc, _ := newTestService(t, store, 30)

	store.seed("etfarb-backup-20250601-020000.tar.gz", 84*24*time.Hour)
	store.seed("etfarb-backup-20250701-020000.tar.gz", 54*24*time.Hour)
	store.seed("etfarb-backup-20250801-020000.tar.gz", 23*24*time.Hour)
	store.seed("etfarb-backup-20250820-020000.tar.gz", 4*24*time.Hour)
	store.seed("other-object.bin", 400*24*time.Hour)

	require.NoError(t, svc.Run(context.Background()))

	// new upload + 23d + 4d survive inside the keep window; the two
	// expired archives go; the foreign object is untouched.
	assert.ElementsMatch(t, []string{
		"etfarb-backup-20250601-020000.tar.gz",
		"etfarb-backup-20250701-020000.tar.gz",
	}, store.deleted)
	assert.Contains(t, store.objects, "other-object.bin")
	assert.Len(t, store.objects, 4)
}

func TestRotateKeepsMinimumEvenWhenExpired(t *testing.T) {
	store := newMemStorage()
	svc, _ := newTestService(t, store, 30)

	store.seed("etfarb-backup-20250101-020000.tar.gz", 200*24*time.Hour)
	store.seed("etfarb-backup-20250201-020000.tar.gz", 180*24*time.Hour)

	require.NoError(t, svc.Run(context.Background()))

	// three archives total after the upload; all inside keepMinimum
	assert.Empty(t, store.deleted)
	assert.Len(t, store.objects, 3)
}

func TestRetentionDisabledSkipsRotation(t *testing.T) {
	store := newMemStorage()
	svc, _ := newTestService(t, store, 0)

	store.seed("etfarb-backup-20200101-020000.tar.gz", 2000*24*time.Hour)
	store.seed("etfarb-backup-20200102-020000.tar.gz", 1999*24*time.Hour)
	store.seed("etfarb-backup-20200103-020000.tar.gz", 1998*24*time.Hour)
	store.seed("etfarb-backup-20200104-020000.tar.gz", 1997*24*time.Hour)

	require.NoError(t, svc.Run(context.Background()))

	assert.Empty(t, store.deleted)
	assert.Len(t, store.objects, 5)
}

func TestCloudBackupJobName(t *testing.T) {
	job := NewCloudBackupJob(nil)
	assert.Equal(t, "cloud_backup", job.Name())
}
