// Package capture starts and stops microphone recordings through external
// recorder tools, producing finalized WAV buffers for transcription.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/HeroTools/open-wispr/internal/audio"
	"go.uber.org/zap"
)

var (
	ErrAlreadyCapturing   = errors.New("a capture is already active")
	ErrNotCapturing       = errors.New("no capture is active")
	ErrNoBackendAvailable = errors.New("no recording backend available")
)

// Buffer is a finalized recording, owned by exactly one dictation session.
type Buffer struct {
	Path       string
	SampleRate int
	Duration   time.Duration
}

// Discard removes the underlying file once the buffer is no longer needed.
func (b Buffer) Discard() error {
	if b.Path == "" {
		return nil
	}
	err := os.Remove(b.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

type Config struct {
	OutputDir  string
	SampleRate int
	Channels   int
	Input      string
}

// Backend builds the recorder command for one capture tool.
type Backend interface {
	Name() string
	Available() bool
	Command(ctx context.Context, cfg Config, outputPath string) *exec.Cmd
	ListDevices(ctx context.Context) (string, error)
}

// Capture runs at most one recording at a time.
type Capture struct {
	Backend Backend
	Config  Config
	Logger  *zap.Logger
	Now     func() time.Time

	mu     sync.Mutex
	active *activeRecording
}

type activeRecording struct {
	cmd       *exec.Cmd
	path      string
	startedAt time.Time
	done      chan error
}

func (c *Capture) log() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c *Capture) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// Start launches the recorder. A second Start while recording fails with
// ErrAlreadyCapturing without touching the active recording.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		return ErrAlreadyCapturing
	}

	if c.Backend == nil || !c.Backend.Available() {
		return ErrNoBackendAvailable
	}

	if err := os.MkdirAll(c.Config.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create recording directory: %w", err)
	}

	path := filepath.Join(c.Config.OutputDir, fmt.Sprintf("recording-%s.wav", c.now().Format("20060102-150405.000")))

	cmd := c.Backend.Command(ctx, c.Config, path)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", c.Backend.Name(), err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	c.active = &activeRecording{cmd: cmd, path: path, startedAt: c.now(), done: done}
	c.log().Debug("capture started", zap.String("backend", c.Backend.Name()), zap.String("path", path))
	return nil
}

// Stop signals the recorder, waits for it to flush, and returns the
// finalized buffer.
func (c *Capture) Stop() (Buffer, error) {
	c.mu.Lock()
	rec := c.active
	c.active = nil
	c.mu.Unlock()

	if rec == nil {
		return Buffer{}, ErrNotCapturing
	}

	if err := c.finishRecorder(rec); err != nil {
		_ = os.Remove(rec.path)
		return Buffer{}, fmt.Errorf("audio capture failed: %w", err)
	}

	info, err := audio.Analyze(rec.path)
	if err != nil {
		_ = os.Remove(rec.path)
		return Buffer{}, fmt.Errorf("audio capture failed: finalize recording: %w", err)
	}

	c.log().Debug("capture finished",
		zap.String("path", rec.path),
		zap.Duration("duration", info.Duration),
		zap.Int("sampleRate", info.SampleRate))

	return Buffer{Path: rec.path, SampleRate: info.SampleRate, Duration: info.Duration}, nil
}

// Cancel aborts the active recording and discards its audio.
func (c *Capture) Cancel() error {
	c.mu.Lock()
	rec := c.active
	c.active = nil
	c.mu.Unlock()

	if rec == nil {
		return ErrNotCapturing
	}

	err := c.finishRecorder(rec)
	if removeErr := os.Remove(rec.path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		c.log().Warn("failed to remove canceled recording", zap.String("path", rec.path), zap.Error(removeErr))
	}

	if err != nil {
		return fmt.Errorf("cancel capture: %w", err)
	}
	return nil
}

func (c *Capture) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// finishRecorder stops the recorder process and interprets its exit status.
// Recorder tools exit via the interrupt we send, so a signal-terminated exit
// counts as success.
func (c *Capture) finishRecorder(rec *activeRecording) error {
	stopSignalSent := rec.cmd.Process.Signal(os.Interrupt) == nil

	var err error
	select {
	case err = <-rec.done:
	case <-time.After(5 * time.Second):
		_ = rec.cmd.Process.Kill()
		err = <-rec.done
	}

	if err == nil {
		return nil
	}

	if stopSignalSent {
		c.log().Debug("recorder exited after stop signal", zap.Error(err))
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			c.log().Debug("recorder stopped by signal", zap.String("signal", status.Signal().String()))
			return nil
		}
	}

	return err
}
