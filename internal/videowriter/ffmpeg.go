// Package videowriter encodes pixel clips into mp4 files with ffmpeg.
package videowriter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"video-extender/internal/media"
)

// CommandLog captures one ffmpeg invocation result.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// EncodeError is an encoding failure with optional command context.
type EncodeError struct {
	Path       string     `json:"path"`
	Message    string     `json:"message"`
	CommandLog CommandLog `json:"commandLog"`
	Err        error      `json:"-"`
}

// Error formats encoding failures for logs and events.
func (e *EncodeError) Error() string {
	if e == nil {
		return ""
	}
	if e.CommandLog.Command == "" {
		return fmt.Sprintf("encode %s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("encode %s: %s (cmd=%s exit=%d)", e.Path, e.Message, e.CommandLog.Command, e.CommandLog.ExitCode)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *EncodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, stdin io.Reader, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command feeding stdin and captures stdout/stderr and exit code.
func (r *execRunner) Run(ctx context.Context, stdin io.Reader, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// FFmpeg writes clips by piping raw RGB frames into an ffmpeg process.
type FFmpeg struct {
	path     string
	runner   commandRunner
	mkdirAll func(path string, perm os.FileMode) error
	rename   func(oldpath, newpath string) error
	remove   func(name string) error
	onLog    func(CommandLog)
}

// New returns a writer using the ffmpeg binary at path ("ffmpeg" when empty).
func New(path string) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpeg{
		path:     path,
		runner:   &execRunner{},
		mkdirAll: os.MkdirAll,
		rename:   os.Rename,
		remove:   os.Remove,
	}
}

// OnLog registers a callback receiving every command log.
func (w *FFmpeg) OnLog(cb func(CommandLog)) {
	w.onLog = cb
}

// WriteVideo encodes clip to path as H.264 at the given CRF. The file is
// written next to path and renamed into place so readers never see a
// partial mp4.
func (w *FFmpeg) WriteVideo(ctx context.Context, clip media.Clip, path string, frameRate, quality int) error {
	if clip.Len() == 0 {
		return &EncodeError{Path: path, Message: "clip has no frames"}
	}
	if clip.Channels != 3 {
		return &EncodeError{Path: path, Message: fmt.Sprintf("want 3 channels, got %d", clip.Channels), Err: media.ErrShapeMismatch}
	}
	if err := w.mkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &EncodeError{Path: path, Message: "cannot create output directory", Err: err}
	}

	tmp := path + ".part"
	args := buildArgs(clip.Width, clip.Height, frameRate, quality, tmp)
	result, runErr := w.runner.Run(ctx, &frameReader{clip: clip}, w.path, args...)
	log := CommandLog{
		Command:  w.path,
		Args:     args,
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
	}
	if w.onLog != nil {
		w.onLog(log)
	}
	if runErr != nil {
		_ = w.remove(tmp)
		return &EncodeError{Path: path, Message: "ffmpeg encoding failed", CommandLog: log, Err: runErr}
	}
	if err := w.rename(tmp, path); err != nil {
		_ = w.remove(tmp)
		return &EncodeError{Path: path, Message: "cannot move encoded file into place", CommandLog: log, Err: err}
	}
	return nil
}

// buildArgs reads rgb24 from stdin and writes yuv420p H.264 mp4.
func buildArgs(width, height, frameRate, quality int, outPath string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.Itoa(frameRate),
		"-i", "-",
		"-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-crf", strconv.Itoa(quality),
		"-f", "mp4",
		outPath,
	}
}

// frameReader streams a clip as packed rgb24 bytes one frame at a time.
type frameReader struct {
	clip  media.Clip
	next  int
	frame []byte
}

func (r *frameReader) Read(p []byte) (int, error) {
	for len(r.frame) == 0 {
		if r.next >= r.clip.Len() {
			return 0, io.EOF
		}
		raw, err := r.clip.RGB24(r.next)
		if err != nil {
			return 0, err
		}
		r.frame = raw
		r.next++
	}
	n := copy(p, r.frame)
	r.frame = r.frame[n:]
	return n, nil
}

// NewForTests constructs a writer with an injectable runner and file ops.
func NewForTests(
	path string,
	runner commandRunner,
	rename func(oldpath, newpath string) error,
	remove func(name string) error,
) *FFmpeg {
	return &FFmpeg{
		path:     path,
		runner:   runner,
		mkdirAll: os.MkdirAll,
		rename:   rename,
		remove:   remove,
	}
}
