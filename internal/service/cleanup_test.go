package service

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contactform/backend/internal/domain"
	"contactform/backend/internal/storage/filesystem"
)

type countingRemover struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func (r *countingRemover) Remove(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[string]int)
	}
	r.calls[path]++
	return r.err
}

type stubArchiver struct {
	archived []string
	err      error
}

func (a *stubArchiver) Archive(_ context.Context, h *domain.UploadHandle) error {
	a.archived = append(a.archived, h.Path)
	return a.err
}

type cleanupCounters struct {
	cleanupFailures int
	archiveFailures int
}

func (c *cleanupCounters) RecordCleanupFailure() { c.cleanupFailures++ }
func (c *cleanupCounters) RecordArchiveFailure() { c.archiveFailures++ }

func TestCleanupScope_ReleaseIsIdempotent(t *testing.T) {
	remover := &countingRemover{}
	scope := NewCleanupCoordinator(remover, nil, nil, nil).Begin()
	scope.Track(&domain.UploadHandle{Path: "/uploads/voice_1.webm"})
	scope.Track(nil)

	assert.True(t, scope.Release(context.Background(), false))
	assert.True(t, scope.Release(context.Background(), true))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			scope.Release(context.Background(), false)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, scope.Tracked())
	assert.Equal(t, map[string]int{"/uploads/voice_1.webm": 1}, remover.calls)
}

func TestCleanupScope_RemovesRealFile(t *testing.T) {
	store, err := filesystem.NewStore(t.TempDir())
	require.NoError(t, err)
	f, path, err := store.Create("memo.webm", "audio/webm")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	scope := NewCleanupCoordinator(store, nil, nil, nil).Begin()
	scope.Track(&domain.UploadHandle{Path: path})

	assert.True(t, scope.Release(context.Background(), false))
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	// 文件已不存在，再次释放仍然成功
	assert.True(t, scope.Release(context.Background(), false))
}

func TestCleanupScope_Archive(t *testing.T) {
	t.Run("archives before removing", func(t *testing.T) {
		archiver := &stubArchiver{}
		remover := &countingRemover{}
		scope := NewCleanupCoordinator(remover, archiver, nil, nil).Begin()
		scope.Track(&domain.UploadHandle{Path: "/uploads/voice_2.ogg"})

		assert.True(t, scope.Release(context.Background(), true))
		assert.Equal(t, []string{"/uploads/voice_2.ogg"}, archiver.archived)
		assert.Equal(t, 1, remover.calls["/uploads/voice_2.ogg"])
	})

	t.Run("rejected uploads are not archived", func(t *testing.T) {
		archiver := &stubArchiver{}
		scope := NewCleanupCoordinator(&countingRemover{}, archiver, nil, nil).Begin()
		scope.Track(&domain.UploadHandle{Path: "/uploads/voice_3.ogg"})

		scope.Release(context.Background(), false)
		assert.Empty(t, archiver.archived)
	})

	t.Run("archive failure still deletes", func(t *testing.T) {
		counters := &cleanupCounters{}
		remover := &countingRemover{}
		scope := NewCleanupCoordinator(remover, &stubArchiver{err: errors.New("bucket gone")}, counters, nil).Begin()
		scope.Track(&domain.UploadHandle{Path: "/uploads/voice_4.ogg"})

		assert.True(t, scope.Release(context.Background(), true))
		assert.Equal(t, 1, remover.calls["/uploads/voice_4.ogg"])
		assert.Equal(t, 1, counters.archiveFailures)
	})
}

func TestCleanupScope_RemoveFailureIsNotEscalated(t *testing.T) {
	counters := &cleanupCounters{}
	remover := &countingRemover{err: errors.New("permission denied")}
	scope := NewCleanupCoordinator(remover, nil, counters, nil).Begin()
	scope.Track(&domain.UploadHandle{Path: "/uploads/voice_5.ogg"})

	assert.False(t, scope.Release(context.Background(), false))
	assert.False(t, scope.Release(context.Background(), false))
	assert.Equal(t, 1, remover.calls["/uploads/voice_5.ogg"])
	assert.Equal(t, 1, counters.cleanupFailures)
}
