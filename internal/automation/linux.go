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

type linuxSurface struct {
	session  platform.SessionType
	logger   *zap.Logger
	lookPath func(string) (string, error)
}

func (s *linuxSurface) OS() string                    { return "linux" }
func (s *linuxSurface) Session() platform.SessionType { return s.session }

func (s *linuxSurface) ProbeMic(ctx context.Context) error {
	spec := micProbeCommandFor(s.lookPath)
	if spec.empty() {
		return ErrNoCaptureTool
	}

	// Recorders without a duration flag run until killed; the deadline both
	// bounds the probe and doubles as its stop signal.
	probeCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	out := filepath.Join(os.TempDir(), fmt.Sprintf("openwispr-micprobe-%d.wav", time.Now().UnixNano()))
	defer os.Remove(out)

	args := append(append([]string(nil), spec.args...), out)
	cmd := exec.CommandContext(probeCtx, spec.name, args...)
	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if probeCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		// Stream opened and recorded until we cut it off.
		return nil
	}

	return fmt.Errorf("microphone probe via %s: %w (%s)", spec.name, err, strings.TrimSpace(stderr.String()))
}

func (s *linuxSurface) WriteClipboard(ctx context.Context, text string) error {
	spec, detached := clipboardWriteCommandFor(s.session, s.lookPath)
	if spec.empty() {
		return ErrNoClipboardTool
	}

	if detached {
		return writeClipboardDetached(spec, text)
	}

	copyCtx, cancel := context.WithTimeout(ctx, 4*time.Second)
	defer cancel()

	cmd := exec.CommandContext(copyCtx, spec.name, spec.args...)
	cmd.Stdin = strings.NewReader(text)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("write clipboard via %s: %w", spec.name, err)
	}

	return nil
}

func (s *linuxSurface) ReadClipboard(ctx context.Context) (string, error) {
	spec := clipboardReadCommandFor(s.session, s.lookPath)
	if spec.empty() {
		return "", ErrNoClipboardTool
	}

	readCtx, cancel := context.WithTimeout(ctx, 4*time.Second)
	defer cancel()

	out, err := exec.CommandContext(readCtx, spec.name, spec.args...).Output()
	if err != nil {
		return "", fmt.Errorf("read clipboard via %s: %w", spec.name, err)
	}

	return string(out), nil
}

func (s *linuxSurface) SimulatePaste(ctx context.Context) error {
	spec := pasteCommandFor(s.session, s.lookPath)
	if spec.empty() {
		return ErrNoPasteTool
	}

	pasteCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(pasteCtx, spec.name, spec.args...)
	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return fmt.Errorf("simulate paste via %s: %w (%s)", spec.name, err, detail)
		}
		return fmt.Errorf("simulate paste via %s: %w", spec.name, err)
	}

	return nil
}

func (s *linuxSurface) PasteToolAvailable() bool {
	return !pasteCommandFor(s.session, s.lookPath).empty()
}

// clipboardWriteCommandFor picks the clipboard writer for the session. The
// second return value marks commands that must outlive this process to keep
// the selection alive (xclip without a clipboard manager).
func clipboardWriteCommandFor(session platform.SessionType, lookPath func(string) (string, error)) (commandSpec, bool) {
	if session == platform.SessionWayland {
		if _, err := lookPath("wl-copy"); err == nil {
			return commandSpec{name: "wl-copy"}, false
		}
	}

	if _, err := lookPath("xclip"); err == nil {
		return commandSpec{name: "xclip", args: []string{"-selection", "clipboard", "-in", "-silent"}}, true
	}

	if _, err := lookPath("xsel"); err == nil {
		return commandSpec{name: "xsel", args: []string{"--clipboard", "--input"}}, false
	}

	// wl-copy still works on some X11-in-Wayland setups, try it last.
	if _, err := lookPath("wl-copy"); err == nil {
		return commandSpec{name: "wl-copy"}, false
	}

	return commandSpec{}, false
}

func clipboardReadCommandFor(session platform.SessionType, lookPath func(string) (string, error)) commandSpec {
	if session == platform.SessionWayland {
		if _, err := lookPath("wl-paste"); err == nil {
			return commandSpec{name: "wl-paste", args: []string{"--no-newline"}}
		}
	}

	if _, err := lookPath("xclip"); err == nil {
		return commandSpec{name: "xclip", args: []string{"-selection", "clipboard", "-out"}}
	}

	if _, err := lookPath("xsel"); err == nil {
		return commandSpec{name: "xsel", args: []string{"--clipboard", "--output"}}
	}

	if _, err := lookPath("wl-paste"); err == nil {
		return commandSpec{name: "wl-paste", args: []string{"--no-newline"}}
	}

	return commandSpec{}
}

func pasteCommandFor(session platform.SessionType, lookPath func(string) (string, error)) commandSpec {
	if session == platform.SessionWayland {
		if _, err := lookPath("wtype"); err == nil {
			return commandSpec{name: "wtype", args: []string{"-M", "ctrl", "-P", "v", "-p", "v", "-m", "ctrl"}}
		}
		if _, err := lookPath("ydotool"); err == nil {
			return commandSpec{name: "ydotool", args: []string{"key", "ctrl+v"}}
		}
		return commandSpec{}
	}

	if _, err := lookPath("xdotool"); err == nil {
		return commandSpec{name: "xdotool", args: []string{"key", "--clearmodifiers", "ctrl+v"}}
	}

	return commandSpec{}
}

func micProbeCommandFor(lookPath func(string) (string, error)) commandSpec {
	if _, err := lookPath("pw-record"); err == nil {
		// pw-record has no duration flag; timeout ctx bounds it instead.
		return commandSpec{name: "pw-record", args: []string{"--rate", "16000", "--channels", "1", "--format", "s16"}}
	}

	if _, err := lookPath("arecord"); err == nil {
		return commandSpec{name: "arecord", args: []string{"-f", "S16_LE", "-r", "16000", "-c", "1", "-d", "1"}}
	}

	if _, err := lookPath("ffmpeg"); err == nil {
		return commandSpec{name: "ffmpeg", args: []string{"-nostdin", "-hide_banner", "-loglevel", "error", "-y", "-f", "pulse", "-i", "default", "-t", "0.2"}}
	}

	return commandSpec{}
}

func writeClipboardDetached(spec commandSpec, text string) error {
	cmd := exec.Command(spec.name, spec.args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open clipboard stdin: %w", err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("start clipboard command: %w", err)
	}

	if _, err := io.WriteString(stdin, text); err != nil {
		_ = stdin.Close()
		_ = cmd.Process.Kill()
		return fmt.Errorf("write clipboard data: %w", err)
	}

	if err := stdin.Close(); err != nil {
		_ = cmd.Process.Kill()
		return fmt.Errorf("close clipboard stdin: %w", err)
	}

	_ = cmd.Process.Release()
	return nil
}
