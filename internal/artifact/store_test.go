package artifact_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/book-expert/avatar-service/internal/artifact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, opts ...artifact.Option) *artifact.Store {
	t.Helper()

	store, err := artifact.NewStore(filepath.Join(t.TempDir(), "temp"), opts...)
	require.NoError(t, err)

	return store
}

func TestAllocate_PathsAreNamespacedPerSession(t *testing.T) {
	t.Parallel()

	store := newStore(t)

	first, err := store.NewSession()
	require.NoError(t, err)

	second, err := store.NewSession()
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)

	for _, path := range first.Paths() {
		assert.Equal(t, first.Dir, filepath.Dir(path))
		assert.NotContains(t, second.Paths(), path)
	}

	assert.Equal(t, 2, store.Active())
}

func TestAllocate_ForcedCollisionIsRejected(t *testing.T) {
	t.Parallel()

	store := newStore(t, artifact.WithIDGenerator(func() string { return "fixed" }))

	session, err := store.NewSession()
	require.NoError(t, err)
	require.NoError(t, session.Write(artifact.KindAudio, []byte("first run")))

	_, err = store.NewSession()
	require.ErrorIs(t, err, artifact.ErrSessionExists)

	data, err := session.Read(artifact.KindAudio)
	require.NoError(t, err)
	assert.Equal(t, []byte("first run"), data, "a colliding allocation must not touch the live session")
}

func TestAllocate_RejectsBadIDs(t *testing.T) {
	t.Parallel()

	store := newStore(t)

	_, err := store.Allocate("")
	require.ErrorIs(t, err, artifact.ErrSessionIDEmpty)

	_, err = store.Allocate("../escape")
	require.ErrorIs(t, err, artifact.ErrInvalidSessionID)

	_, err = store.Allocate("..")
	require.ErrorIs(t, err, artifact.ErrInvalidSessionID)
}

func TestRelease_RemovesEverythingAndIsIdempotent(t *testing.T) {
	t.Parallel()

	store := newStore(t)

	session, err := store.NewSession()
	require.NoError(t, err)

	require.NoError(t, session.Write(artifact.KindAvatar, []byte("jpeg")))
	require.NoError(t, session.Write(artifact.KindAudio, []byte("mp3")))
	// The video is intentionally never written: missing files are not errors.

	require.NoError(t, store.Release(session.ID))
	require.NoError(t, store.Release(session.ID))

	for _, path := range session.Paths() {
		_, statErr := os.Stat(path)
		assert.True(t, os.IsNotExist(statErr), "expected %s to be gone", path)
	}

	_, statErr := os.Stat(session.Dir)
	assert.True(t, os.IsNotExist(statErr))
	assert.Zero(t, store.Active())
}

func TestSession_ReadMissingArtifact(t *testing.T) {
	t.Parallel()

	store := newStore(t)

	session, err := store.NewSession()
	require.NoError(t, err)

	_, err = session.Read(artifact.KindVideo)
	require.Error(t, err)
	assert.Empty(t, session.Path(artifact.Kind(42)))
}

func TestAllocate_ConcurrentSessionsNeverShareFiles(t *testing.T) {
	t.Parallel()

	store := newStore(t)

	const runs = 32

	var waitGroup sync.WaitGroup

	errs := make(chan error, runs)

	for i := range runs {
		waitGroup.Add(1)

		go func(index int) {
			defer waitGroup.Done()

			session, err := store.NewSession()
			if err != nil {
				errs <- err

				return
			}

			payload := []byte{byte(index)}

			err = session.Write(artifact.KindAudio, payload)
			if err != nil {
				errs <- err

				return
			}

			data, err := session.Read(artifact.KindAudio)
			if err != nil {
				errs <- err

				return
			}

			if data[0] != byte(index) {
				errs <- assert.AnError
			}

			errs <- store.Release(session.ID)
		}(i)
	}

	waitGroup.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	entries, err := os.ReadDir(store.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)
}
