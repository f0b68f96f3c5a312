package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/renderpool/internal/logger"
	"github.com/shehryarbajwa/renderpool/pkg/models"
)

func TestObjectKey(t *testing.T) {
	key := ObjectKey(Artifact{
		ContentType: "image/png",
		Operation:   models.OperationScreenshot,
		ProjectID:   "proj/../1",
		CreatedAt:   time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
	})

	parts := strings.Split(key, "/")
	require.Len(t, parts, 6)
	assert.Equal(t, "proj____1", parts[0])
	assert.Equal(t, "screenshot", parts[1])
	assert.Equal(t, []string{"2026", "03", "04"}, parts[2:5])
	assert.True(t, strings.HasSuffix(parts[5], ".png"))

	assert.True(t, strings.HasPrefix(ObjectKey(Artifact{ContentType: "application/pdf"}), "anonymous/"))
	assert.True(t, strings.HasSuffix(ObjectKey(Artifact{ContentType: "text/weird"}), ".bin"))
}

func TestFileStore_StoreAndLoad(t *testing.T) {
	root := t.TempDir()
	store, err := NewFileStore(root)
	require.NoError(t, err)

	ref, err := store.Store(context.Background(), Artifact{
		Data:        []byte("%PDF-1.7"),
		ContentType: "application/pdf",
		Operation:   models.OperationPDF,
		ProjectID:   "p1",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "file://"))
	assert.True(t, strings.HasSuffix(ref, ".pdf"))

	data, err := store.Load(ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7"), data)

	// no temp files left behind
	dir := filepath.Dir(strings.TrimPrefix(ref, "file://"))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileStore_RejectsBadInput(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Store(context.Background(), Artifact{ContentType: "image/png"})
	assert.Error(t, err)

	_, err = store.Store(context.Background(), Artifact{Data: []byte("x")})
	assert.Error(t, err)

	_, err = store.Load("s3://bucket/key")
	assert.Error(t, err)

	_, err = store.Load("file:///etc/passwd")
	assert.Error(t, err)
}

func TestNewMinioStore_Validation(t *testing.T) {
	_, err := NewMinioStore(MinioConfig{Bucket: "b"}, logger.NewNop())
	assert.Error(t, err)

	_, err = NewMinioStore(MinioConfig{Endpoint: "localhost:9000"}, logger.NewNop())
	assert.Error(t, err)

	s, err := NewMinioStore(MinioConfig{Endpoint: "localhost:9000", Bucket: "artifacts"}, logger.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "artifacts", s.bucket)
}
