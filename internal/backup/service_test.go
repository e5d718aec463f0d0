package backup

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aristath/sentinel-invest/internal/database"
	"github.com/aristath/sentinel-invest/internal/events"
	testingpkg "github.com/aristath/sentinel-invest/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (m *memStore) Upload(ctx context.Context, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memStore) List(ctx context.Context, prefix string) ([]Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Object
	for k, v := range m.objects {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, Object{Key: k, Size: int64(len(v))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *memStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

type failingSource struct{}

func (failingSource) Name() string     { return "broken" }
func (failingSource) Filename() string { return "broken.db" }
func (failingSource) Snapshot(ctx context.Context, path string) error {
	return errors.New("disk on fire")
}

func untar(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	out := make(map[string][]byte)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		body, err := io.ReadAll(tr)
		require.NoError(t, err)
		out[hdr.Name] = body
	}
	return out
}

func fixedNow() time.Time {
	return time.Date(2025, 3, 14, 3, 45, 0, 0, time.UTC)
}

func TestRun_ArchivesAndUploads(t *testing.T) {
	store := newMemStore()
	sources := []Source{
		DocumentSource{Store: testingpkg.NewTestStore(t)},
		SQLiteSource{DB: testingpkg.NewTestDB(t, database.NameIdempotency)},
	}
	bus := events.NewBus(zerolog.Nop())
	var completed *events.BackupCompletedData
	bus.Subscribe(events.BackupCompleted, func(ev *events.Event) {
		completed = ev.Data.(*events.BackupCompletedData)
	})

	svc := NewService(store, sources, Options{Prefix: "/backups/", StagingDir: t.TempDir()}, bus, zerolog.Nop())
	svc.now = fixedNow

	result, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "backups/sentinel-invest-backup-2025-03-14-034500.tar.gz", result.Key)
	require.Contains(t, store.objects, result.Key)
	assert.Equal(t, int64(len(store.objects[result.Key])), result.SizeBytes)
	require.NotNil(t, completed)
	assert.Equal(t, result.Key, completed.Key)

	files := untar(t, store.objects[result.Key])
	require.Contains(t, files, "documents.badger")
	require.Contains(t, files, "idempotency.db")
	require.Contains(t, files, metadataFile)

	var meta Metadata
	require.NoError(t, json.Unmarshal(files[metadataFile], &meta))
	require.Len(t, meta.Databases, 2)
	assert.Equal(t, "idempotency", meta.Databases[1].Name)
	assert.Equal(t, int64(len(files["idempotency.db"])), meta.Databases[1].SizeBytes)
	assert.Equal(t, fmt.Sprintf("sha256:%x", sha256.Sum256(files["idempotency.db"])), meta.Databases[1].Checksum)
}

func TestRun_SourceFailureUploadsNothing(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, []Source{failingSource{}}, Options{StagingDir: t.TempDir()}, nil, zerolog.Nop())

	_, err := svc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
	assert.Empty(t, store.objects)
}

func TestRotate_KeepsNewestAndRecent(t *testing.T) {
	store := newMemStore()
	for _, day := range []string{"2024-12-01", "2024-12-02", "2024-12-03", "2025-03-10", "2025-03-11"} {
		store.objects["backups/sentinel-invest-backup-"+day+"-034500.tar.gz"] = []byte("x")
	}
	store.objects["backups/unrelated.txt"] = []byte("x")

	svc := NewService(store, nil, Options{Prefix: "backups", RetentionDays: 30}, nil, zerolog.Nop())
	svc.now = fixedNow

	deleted, err := svc.Rotate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.ElementsMatch(t, []string{
		"backups/sentinel-invest-backup-2024-12-01-034500.tar.gz",
		"backups/sentinel-invest-backup-2024-12-02-034500.tar.gz",
	}, store.deleted)
	assert.Contains(t, store.objects, "backups/unrelated.txt")
}

func TestRotate_DisabledWithoutRetention(t *testing.T) {
	store := newMemStore()
	for i := 1; i <= 5; i++ {
		store.objects[fmt.Sprintf("sentinel-invest-backup-2020-01-0%d-000000.tar.gz", i)] = []byte("x")
	}
	svc := NewService(store, nil, Options{}, nil, zerolog.Nop())

	deleted, err := svc.Rotate(context.Background())
	require.NoError(t, err)
	assert.Zero(t, deleted)
	assert.Len(t, store.objects, 5)
}

func TestList_NewestFirst(t *testing.T) {
	store := newMemStore()
	store.objects["sentinel-invest-backup-2025-01-01-000000.tar.gz"] = []byte("a")
	store.objects["sentinel-invest-backup-2025-02-01-000000.tar.gz"] = []byte("bb")
	store.objects["sentinel-invest-backup-garbage.tar.gz"] = []byte("c")

	svc := NewService(store, nil, Options{}, nil, zerolog.Nop())
	list, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(2), list[0].SizeBytes)
	assert.True(t, list[0].Timestamp.After(list[1].Timestamp))
}
