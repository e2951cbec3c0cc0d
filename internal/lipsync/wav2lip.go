// Package lipsync produces the talking-head video by running the Wav2Lip
// inference script as a subprocess.
package lipsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/book-expert/avatar-service/internal/config"
	"github.com/book-expert/avatar-service/internal/core"
	"github.com/book-expert/avatar-service/internal/media"
	"github.com/book-expert/logger"
)

const (
	inferenceScript = "inference.py"
	maxOutputLog    = 2048
	// waitDelay bounds how long Wait keeps reading output pipes after the
	// process group has been killed.
	waitDelay = 5 * time.Second
)

var (
	// ErrPathEmpty is returned when a face, audio or output path is missing.
	ErrPathEmpty = errors.New("lip sync path cannot be empty")
	// ErrTimeout is returned when the subprocess exceeds its deadline.
	ErrTimeout = errors.New("lip sync timed out")
	// ErrProcessFailed is returned when the subprocess exits non-zero.
	ErrProcessFailed = errors.New("lip sync process failed")
	// ErrNoOutput is returned when the subprocess succeeds but writes no video.
	ErrNoOutput = errors.New("lip sync produced no output")
	// ErrUnsupportedAudio is returned when the audio file type is not accepted by the model.
	ErrUnsupportedAudio = errors.New("unsupported lip sync audio file")
)

// Wav2Lip runs the Wav2Lip inference script with fixed padding and checkpoint.
type Wav2Lip struct {
	cfg config.LipSyncConfig
	log *logger.Logger
}

// NewWav2Lip creates a compositor from its configuration section.
func NewWav2Lip(cfg config.LipSyncConfig, log *logger.Logger) *Wav2Lip {
	return &Wav2Lip{cfg: cfg, log: log}
}

// Args returns the command-line arguments passed to the interpreter.
func (w *Wav2Lip) Args(facePath, audioPath, outputPath string) []string {
	args := []string{
		filepath.Join(w.cfg.Wav2LipDir, inferenceScript),
		"--checkpoint_path", w.cfg.CheckpointPath,
		"--face", facePath,
		"--audio", audioPath,
		"--outfile", outputPath,
		"--pads",
	}

	for _, pad := range w.cfg.Pads {
		args = append(args, strconv.Itoa(pad))
	}

	return args
}

// Compose blocks until the subprocess exits or its deadline expires. A
// non-zero exit, an expired deadline or a missing output file is an error.
func (w *Wav2Lip) Compose(ctx context.Context, facePath, audioPath, outputPath string) error {
	if facePath == "" || audioPath == "" || outputPath == "" {
		return ErrPathEmpty
	}

	if !media.IsAudioFile(audioPath) {
		return fmt.Errorf("%w: %s", ErrUnsupportedAudio, filepath.Base(audioPath))
	}

	if timeout := w.cfg.Timeout(); timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()

	// #nosec G204 -- binary and script come from configuration, paths from the artifact store
	cmd := exec.CommandContext(ctx, w.cfg.PythonBinary, w.Args(facePath, audioPath, outputPath)...)
	killProcessGroupOnCancel(cmd)
	cmd.WaitDelay = waitDelay

	output, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrTimeout, time.Since(start).Round(time.Millisecond))
		}

		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrProcessFailed, ctx.Err())
		}

		return fmt.Errorf("%w: %w - output: %s", ErrProcessFailed, err, truncate(output))
	}

	info, statErr := os.Stat(outputPath)
	if statErr != nil || info.Size() == 0 {
		return fmt.Errorf("%w: %s", ErrNoOutput, filepath.Base(outputPath))
	}

	w.log.Info("Lip sync completed in %s (%d bytes)", time.Since(start), info.Size())

	return nil
}

func truncate(output []byte) string {
	if len(output) > maxOutputLog {
		return string(output[len(output)-maxOutputLog:])
	}

	return string(output)
}

var _ core.LipSyncCompositor = (*Wav2Lip)(nil)
