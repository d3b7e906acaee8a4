package automation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/HeroTools/open-wispr/internal/platform"
	"go.uber.org/zap"
)

const pasteKeystrokeScript = `tell application "System Events" to keystroke "v" using command down`

type darwinSurface struct {
	logger   *zap.Logger
	lookPath func(string) (string, error)
}

func (s *darwinSurface) OS() string                    { return "darwin" }
func (s *darwinSurface) Session() platform.SessionType { return platform.SessionNone }

func (s *darwinSurface) ProbeMic(ctx context.Context) error {
	if _, err := s.lookPath("ffmpeg"); err != nil {
		return fmt.Errorf("%w: ffmpeg not on PATH", ErrNoCaptureTool)
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out := filepath.Join(os.TempDir(), fmt.Sprintf("openwispr-micprobe-%d.wav", time.Now().UnixNano()))
	defer os.Remove(out)

	cmd := exec.CommandContext(probeCtx, "ffmpeg",
		"-nostdin", "-hide_banner", "-loglevel", "error", "-y",
		"-f", "avfoundation", "-i", ":default",
		"-t", "0.2", out)
	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("microphone probe: %w (%s)", err, strings.TrimSpace(stderr.String()))
	}

	return nil
}

func (s *darwinSurface) WriteClipboard(ctx context.Context, text string) error {
	if _, err := s.lookPath("pbcopy"); err != nil {
		return ErrNoClipboardTool
	}

	copyCtx, cancel := context.WithTimeout(ctx, 4*time.Second)
	defer cancel()

	cmd := exec.CommandContext(copyCtx, "pbcopy")
	cmd.Stdin = strings.NewReader(text)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}

	return nil
}

func (s *darwinSurface) ReadClipboard(ctx context.Context) (string, error) {
	if _, err := s.lookPath("pbpaste"); err != nil {
		return "", ErrNoClipboardTool
	}

	readCtx, cancel := context.WithTimeout(ctx, 4*time.Second)
	defer cancel()

	out, err := exec.CommandContext(readCtx, "pbpaste").Output()
	if err != nil {
		return "", fmt.Errorf("read clipboard: %w", err)
	}

	return string(out), nil
}

// SimulatePaste drives System Events. The call fails when the process has
// not been granted Accessibility permission, which is exactly the signal
// the automation probe relies on.
func (s *darwinSurface) SimulatePaste(ctx context.Context) error {
	if _, err := s.lookPath("osascript"); err != nil {
		return ErrNoPasteTool
	}

	pasteCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(pasteCtx, "osascript", "-e", pasteKeystrokeScript)
	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return fmt.Errorf("simulate paste: %w (%s)", err, detail)
		}
		return fmt.Errorf("simulate paste: %w", err)
	}

	return nil
}

func (s *darwinSurface) PasteToolAvailable() bool {
	_, err := s.lookPath("osascript")
	return err == nil
}
