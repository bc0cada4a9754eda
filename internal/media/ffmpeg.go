// Package media pulls audio and still frames out of lesson videos with ffmpeg.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sooksun/teachermon-sub002/internal/config"
)

// ErrMalformedInput means ffmpeg rejected the source. Retrying will not help.
var ErrMalformedInput = errors.New("malformed media input")

// Extractor produces local files from a video source. src is a local path
// or a direct media URL.
type Extractor interface {
	ExtractAudio(ctx context.Context, src, dst string) error
	// ExtractFrames writes a zip of JPEG frames to dst and returns the count.
	ExtractFrames(ctx context.Context, src, dst string) (int, error)
}

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.Bytes(), err
}

type FFmpeg struct {
	path      string
	interval  time.Duration
	maxFrames int
	run       commandRunner
}

func NewFFmpeg(cfg config.MediaConfig) *FFmpeg {
	f := &FFmpeg{
		path:      cfg.FFmpegPath,
		interval:  cfg.FrameInterval,
		maxFrames: cfg.MaxFrames,
		run:       execRunner,
	}
	if f.path == "" {
		f.path = "ffmpeg"
	}
	if f.interval <= 0 {
		f.interval = 30 * time.Second
	}
	if f.maxFrames <= 0 {
		f.maxFrames = 40
	}
	return f
}

// ExtractAudio writes mono 16 kHz WAV, the format speech-to-text models expect.
func (f *FFmpeg) ExtractAudio(ctx context.Context, src, dst string) error {
	return f.exec(ctx, "-nostdin", "-hide_banner", "-loglevel", "error", "-y",
		"-i", src, "-vn", "-ac", "1", "-ar", "16000", "-f", "wav", dst)
}

func (f *FFmpeg) ExtractFrames(ctx context.Context, src, dst string) (int, error) {
	dir, err := os.MkdirTemp(filepath.Dir(dst), "frames-*")
	if err != nil {
		return 0, fmt.Errorf("create frame dir: %w", err)
	}
	defer os.RemoveAll(dir)

	fps := fmt.Sprintf("fps=1/%s", strconv.FormatFloat(f.interval.Seconds(), 'f', -1, 64))
	if err := f.exec(ctx, "-nostdin", "-hide_banner", "-loglevel", "error", "-y",
		"-i", src, "-vf", fps, "-frames:v", strconv.Itoa(f.maxFrames), "-q:v", "3",
		filepath.Join(dir, "frame_%04d.jpg")); err != nil {
		return 0, err
	}

	n, err := PackFrames(dir, dst)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: no frames decoded", ErrMalformedInput)
	}
	return n, nil
}

func (f *FFmpeg) exec(ctx context.Context, args ...string) error {
	stderr, err := f.run(ctx, f.path, args...)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("ffmpeg interrupted: %w", ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("%w: ffmpeg exit %d: %s", ErrMalformedInput, exitErr.ExitCode(), tail(stderr, 512))
	}
	return fmt.Errorf("run ffmpeg: %w", err)
}

func tail(b []byte, n int) string {
	b = bytes.TrimSpace(b)
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(b)
}
