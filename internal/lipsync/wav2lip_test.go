package lipsync_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/avatar-service/internal/config"
	"github.com/book-expert/avatar-service/internal/lipsync"
	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Stand-ins for the python interpreter. They receive the inference.py path as
// $1, followed by the Wav2Lip flags.
const (
	scriptWritesOutput = `#!/bin/sh
out=""
while [ $# -gt 0 ]; do
  if [ "$1" = "--outfile" ]; then out="$2"; fi
  shift
done
printf 'fake-mp4' > "$out"
`
	scriptFails = `#!/bin/sh
echo "face not detected" >&2
exit 1
`
	scriptNoOutput = `#!/bin/sh
exit 0
`
	scriptHangs = `#!/bin/sh
exec sleep 30
`
	// The shell stays the parent and sleep keeps the output pipe open, like
	// ffmpeg under inference.py.
	scriptHangsInChild = `#!/bin/sh
sleep 30
true
`
)

func createTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "lipsync-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func writeScript(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fake-python.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o700))

	return path
}

func newCompositor(t *testing.T, script string, timeoutSeconds int) *lipsync.Wav2Lip {
	t.Helper()

	cfg := config.LipSyncConfig{
		PythonBinary:   writeScript(t, script),
		Wav2LipDir:     "/opt/Wav2Lip",
		CheckpointPath: "/opt/Wav2Lip/checkpoints/wav2lip_gan.pth",
		Pads:           []int{0, 10, 0, 0},
		TimeoutSeconds: timeoutSeconds,
	}

	return lipsync.NewWav2Lip(cfg, createTestLogger(t))
}

func TestArgs(t *testing.T) {
	t.Parallel()

	compositor := newCompositor(t, scriptNoOutput, 0)

	args := compositor.Args("face.jpg", "audio.mp3", "out.mp4")

	assert.Equal(t, []string{
		"/opt/Wav2Lip/inference.py",
		"--checkpoint_path", "/opt/Wav2Lip/checkpoints/wav2lip_gan.pth",
		"--face", "face.jpg",
		"--audio", "audio.mp3",
		"--outfile", "out.mp4",
		"--pads", "0", "10", "0", "0",
	}, args)
}

func TestCompose_Success(t *testing.T) {
	t.Parallel()

	compositor := newCompositor(t, scriptWritesOutput, 10)
	outputPath := filepath.Join(t.TempDir(), "out.mp4")

	err := compositor.Compose(context.Background(), "face.jpg", "audio.mp3", outputPath)
	require.NoError(t, err)

	data, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, "fake-mp4", string(data))
}

func TestCompose_NonZeroExit(t *testing.T) {
	t.Parallel()

	compositor := newCompositor(t, scriptFails, 10)

	err := compositor.Compose(context.Background(), "face.jpg", "audio.mp3", filepath.Join(t.TempDir(), "out.mp4"))
	require.ErrorIs(t, err, lipsync.ErrProcessFailed)
	assert.Contains(t, err.Error(), "face not detected")
}

func TestCompose_MissingOutput(t *testing.T) {
	t.Parallel()

	compositor := newCompositor(t, scriptNoOutput, 10)

	err := compositor.Compose(context.Background(), "face.jpg", "audio.mp3", filepath.Join(t.TempDir(), "out.mp4"))
	require.ErrorIs(t, err, lipsync.ErrNoOutput)
}

func TestCompose_DeadlineBoundsHungProcess(t *testing.T) {
	t.Parallel()

	compositor := newCompositor(t, scriptHangs, 1)

	err := compositor.Compose(context.Background(), "face.jpg", "audio.mp3", filepath.Join(t.TempDir(), "out.mp4"))
	require.ErrorIs(t, err, lipsync.ErrTimeout)
}

func TestCompose_DeadlineKillsChildProcesses(t *testing.T) {
	t.Parallel()

	compositor := newCompositor(t, scriptHangsInChild, 1)

	start := time.Now()
	err := compositor.Compose(context.Background(), "face.jpg", "audio.mp3", filepath.Join(t.TempDir(), "out.mp4"))
	elapsed := time.Since(start)

	require.ErrorIs(t, err, lipsync.ErrTimeout)
	assert.Less(t, elapsed, 10*time.Second, "grandchild kept Compose blocked past its deadline")
}

func TestCompose_EmptyPaths(t *testing.T) {
	t.Parallel()

	compositor := newCompositor(t, scriptWritesOutput, 10)

	err := compositor.Compose(context.Background(), "", "audio.mp3", "out.mp4")
	require.ErrorIs(t, err, lipsync.ErrPathEmpty)
}

func TestCompose_RejectsUnsupportedAudio(t *testing.T) {
	t.Parallel()

	compositor := newCompositor(t, scriptWritesOutput, 10)

	err := compositor.Compose(context.Background(), "face.jpg", "audio.ogg", filepath.Join(t.TempDir(), "out.mp4"))
	require.ErrorIs(t, err, lipsync.ErrUnsupportedAudio)
}
