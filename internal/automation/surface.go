// Package automation is the OS capability surface consumed by the dictation
// core: microphone probing, clipboard access, and simulated paste. One
// implementation is selected at startup from the host OS and display-server
// session; nothing outside this package branches on platform names.
package automation

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"

	"github.com/HeroTools/open-wispr/internal/platform"
	"go.uber.org/zap"
)

var (
	ErrNoClipboardTool = errors.New("no clipboard command available")
	ErrNoPasteTool     = errors.New("no paste-simulation command available")
	ErrNoCaptureTool   = errors.New("no audio capture command available")
)

// Surface exposes the host automation capabilities.
type Surface interface {
	OS() string
	Session() platform.SessionType

	// ProbeMic opens the microphone briefly. An error means the device is
	// missing or access is denied.
	ProbeMic(ctx context.Context) error

	WriteClipboard(ctx context.Context, text string) error
	ReadClipboard(ctx context.Context) (string, error)

	// SimulatePaste sends the platform paste key combination to the focused
	// application.
	SimulatePaste(ctx context.Context) error

	// PasteToolAvailable reports whether SimulatePaste has a usable backend
	// without invoking it.
	PasteToolAvailable() bool
}

// New selects the surface for the current host.
func New(logger *zap.Logger) (Surface, error) {
	return newSurface(runtime.GOOS, platform.CurrentSessionType(), exec.LookPath, logger)
}

func newSurface(goos string, session platform.SessionType, lookPath func(string) (string, error), logger *zap.Logger) (Surface, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch goos {
	case "darwin":
		return &darwinSurface{logger: logger, lookPath: lookPath}, nil
	case "linux":
		return &linuxSurface{session: session, logger: logger, lookPath: lookPath}, nil
	default:
		return nil, fmt.Errorf("unsupported OS: %s", goos)
	}
}

type commandSpec struct {
	name string
	args []string
}

func (s commandSpec) empty() bool {
	return s.name == ""
}
