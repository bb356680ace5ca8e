package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"contactform/backend/internal/domain"
	"contactform/backend/internal/storage/filesystem"
)

type memWriter struct {
	bytes.Buffer
	closed   bool
	closeErr error
}

func (w *memWriter) Close() error {
	w.closed = true
	return w.closeErr
}

func setupTestArchiver(t *testing.T, w *memWriter) (*GCSArchiver, *filesystem.Store, map[string]*memWriter) {
	t.Helper()

	store, err := filesystem.NewStore(t.TempDir())
	require.NoError(t, err)

	objects := make(map[string]*memWriter)
	a := &GCSArchiver{
		bucket: "voice-archive",
		prefix: "uploads/",
		opener: store,
		logger: zap.NewNop(),
		newWriter: func(_ context.Context, object string, _ *domain.UploadHandle) io.WriteCloser {
			objects[object] = w
			return w
		},
	}
	return a, store, objects
}

func TestObjectName(t *testing.T) {
	h := &domain.UploadHandle{
		Path:     "/data/uploads/voice_1710408600000_abcdef012345.webm",
		StoredAt: time.Date(2025, 3, 14, 23, 30, 0, 0, time.FixedZone("UTC-2", -2*3600)),
	}

	assert.Equal(t, "2025/03/15/voice_1710408600000_abcdef012345.webm", ObjectName("", h))
	assert.Equal(t, "voice/2025/03/15/voice_1710408600000_abcdef012345.webm", ObjectName("/voice/", h))
}

func TestGCSArchiver_Archive(t *testing.T) {
	t.Run("copies file content", func(t *testing.T) {
		w := &memWriter{}
		a, store, objects := setupTestArchiver(t, w)

		f, p, err := store.Create("memo.webm", "audio/webm")
		require.NoError(t, err)
		_, err = f.Write([]byte("opus-data"))
		require.NoError(t, err)
		require.NoError(t, f.Close())

		h := &domain.UploadHandle{Path: p, SizeBytes: 9, StoredAt: time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)}
		require.NoError(t, a.Archive(context.Background(), h))

		require.Contains(t, objects, "uploads/2025/03/14/"+filepath.Base(p))
		assert.Equal(t, "opus-data", w.String())
		assert.True(t, w.closed)
	})

	t.Run("missing file", func(t *testing.T) {
		a, store, objects := setupTestArchiver(t, &memWriter{})

		err := a.Archive(context.Background(), &domain.UploadHandle{Path: filepath.Join(store.BasePath(), "voice_gone.webm")})

		require.Error(t, err)
		assert.ErrorIs(t, err, os.ErrNotExist)
		assert.Empty(t, objects)
	})

	t.Run("finalize failure", func(t *testing.T) {
		w := &memWriter{closeErr: errors.New("precondition failed")}
		a, store, _ := setupTestArchiver(t, w)

		f, p, err := store.Create("memo.ogg", "audio/ogg")
		require.NoError(t, err)
		require.NoError(t, f.Close())

		err = a.Archive(context.Background(), &domain.UploadHandle{Path: p})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "precondition failed")
	})
}
