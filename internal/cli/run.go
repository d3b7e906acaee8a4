package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/HeroTools/open-wispr/internal/capture"
	"github.com/HeroTools/open-wispr/internal/config"
	"github.com/HeroTools/open-wispr/internal/download"
	"github.com/HeroTools/open-wispr/internal/engine"
	"github.com/HeroTools/open-wispr/internal/enhance"
	"github.com/HeroTools/open-wispr/internal/inject"
	"github.com/HeroTools/open-wispr/internal/permission"
	"github.com/HeroTools/open-wispr/internal/platform"
	"github.com/HeroTools/open-wispr/internal/session"
	"github.com/HeroTools/open-wispr/internal/transcribe"
)

// runDictation is the default command: a foreground loop where Enter toggles
// recording and each finished session lands in the focused application.
func (a *appState) runDictation(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	machine, cleanup, err := a.buildMachine(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.consumeEvents(machine, quit)
	}()

	fmt.Fprintln(a.outWriter(), "Press Enter to start dictating, Enter again to stop. Ctrl+C or q quits.")

	err = a.toggleLoop(ctx, machine)

	if machine.State() == session.StateRecording {
		_ = machine.Cancel()
	}
	cleanupMachine(machine)
	close(quit)
	<-done
	return err
}

// toggleLoop reads stdin line by line; each Enter flips between recording and
// stopped. It returns when stdin closes, the user quits, or the context ends.
func (a *appState) toggleLoop(ctx context.Context, machine *session.Machine) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(a.in)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.EqualFold(line, "q") || strings.EqualFold(line, "quit") {
				return nil
			}

			if machine.State() == session.StateRecording {
				if _, err := machine.Stop(); err != nil {
					a.log().Warn("stop failed", zap.Error(err))
				}
				continue
			}

			if _, err := machine.Start(ctx); err != nil {
				switch {
				case errors.Is(err, session.ErrSessionActive):
					a.log().Info("previous dictation still processing, ignoring hotkey")
				case errors.Is(err, session.ErrFailureUnhandled):
					// consumeEvents acknowledges failures; a race here just
					// means the user pressed Enter first.
					a.log().Info("clearing failed session")
					_, _ = machine.Acknowledge()
				case errors.Is(err, session.ErrMicrophoneDenied):
					return err
				default:
					a.log().Error("could not start dictation", zap.Error(err))
				}
			}
		}
	}
}

// consumeEvents logs transitions, prints finished transcripts, and clears
// failed sessions so the loop stays usable.
func (a *appState) consumeEvents(machine *session.Machine, quit <-chan struct{}) {
	for {
		var event session.Event
		select {
		case <-quit:
			return
		case event = <-machine.Events():
		}

		if event.Result == nil {
			a.log().Debug("session state",
				zap.String("session", event.SessionID),
				zap.String("state", event.State.String()))
			continue
		}

		result := event.Result
		for _, warning := range result.Warnings {
			fmt.Fprintf(a.outWriter(), "warning: %s\n", warning)
		}

		if result.Err != nil {
			if !errors.Is(result.Err, context.Canceled) {
				fmt.Fprintf(a.outWriter(), "dictation failed: %v\n", result.Err)
			}
			_, _ = machine.Acknowledge()
			continue
		}

		if result.Text == "" {
			fmt.Fprintln(a.outWriter(), noSpeechHint())
			continue
		}

		fmt.Fprintln(a.outWriter(), result.Text)
	}
}

func noSpeechHint() string {
	return "No speech detected. Check mic mute and selected input device, then try again."
}

// buildMachine assembles the full pipeline from settings: capture backend,
// transcription providers with fallback, optional enhancement, and injection.
func (a *appState) buildMachine(ctx context.Context) (*session.Machine, func(), error) {
	settings := a.settings

	surface, err := a.surfaceFn(a.log())
	if err != nil {
		return nil, nil, err
	}
	negotiator := permission.NewNegotiator(surface, a.log())

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	local, localCleanup, err := a.buildLocalProvider(ctx, settings)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if localCleanup != nil {
		cleanups = append(cleanups, localCleanup)
	}

	var cloud *transcribe.Cloud
	if settings.CloudConfigured() {
		cloud = transcribe.NewCloud(settings.CloudBaseURL, settings.CloudAPIKey, settings.CloudModelID)
	}

	router, err := buildRouter(settings, local, cloud, a.log())
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	var enhancer session.Enhancer
	if settings.EnhanceEnabled {
		enhancer = enhance.New(settings.ReasoningBaseURL, settings.ReasoningAPIKey,
			settings.ReasoningModelID, settings.AgentName, a.log())
	}

	recorder, err := a.buildRecorder(settings)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	machine := session.NewMachine(
		recorder,
		router,
		enhancer,
		inject.New(surface, negotiator, a.log()),
		negotiator,
		session.Options{
			ModelID:              transcriptionModelID(settings),
			Language:             settings.Language,
			SilenceGate:          settings.SilenceGate,
			SilenceThresholdDBFS: settings.SilenceThresholdDBFS,
		},
		a.log(),
	)

	return machine, cleanup, nil
}

// transcriptionModelID picks the model reference the primary provider
// understands: registry names for local, API model IDs for cloud.
func transcriptionModelID(settings config.Settings) string {
	if settings.Provider == config.ProviderCloud {
		return settings.CloudModelID
	}
	return settings.ModelID
}

// buildLocalProvider starts the persistent engine when the local provider is
// the primary or an allowed fallback, downloading the model first if needed.
func (a *appState) buildLocalProvider(ctx context.Context, settings config.Settings) (*transcribe.Local, func(), error) {
	needed := settings.Provider == config.ProviderLocal || settings.Fallback.AllowLocalFallback
	if !needed {
		return nil, nil, nil
	}

	modelDir, err := a.modelStorageDir()
	if err != nil {
		return nil, nil, err
	}

	if err := a.ensureModelAvailable(ctx, settings.ModelID, modelDir); err != nil {
		return nil, nil, err
	}

	proc, err := engine.NewBundled(modelDir, engine.DefaultQueueDepth, a.log())
	if err != nil {
		return nil, nil, err
	}

	return transcribe.NewLocal(proc), func() { _ = proc.Close() }, nil
}

func buildRouter(settings config.Settings, local *transcribe.Local, cloud *transcribe.Cloud, logger *zap.Logger) (*transcribe.Router, error) {
	var primary, fallback transcribe.Provider

	switch settings.Provider {
	case config.ProviderCloud:
		if cloud == nil {
			return nil, errors.New("cloud provider selected but no API key configured")
		}
		primary = cloud
		if settings.Fallback.AllowLocalFallback && local != nil {
			fallback = local
		}
	default:
		if local == nil {
			return nil, errors.New("local provider selected but engine unavailable")
		}
		primary = local
		if settings.Fallback.AllowCloudFallback && cloud != nil {
			fallback = cloud
		}
	}

	router := transcribe.NewRouter(primary, fallback, settings.Fallback, logger)
	if settings.TranscriptionTimeout > 0 {
		router.AttemptTimeout = settings.TranscriptionTimeout
	}
	return router, nil
}

func (a *appState) buildRecorder(settings config.Settings) (*capture.Capture, error) {
	backend, err := capture.SelectBackend(capture.DefaultBackends(runtime.GOOS), settings.CaptureBackend)
	if err != nil {
		return nil, err
	}

	recordingDir, err := platform.ResolveRecordingDir()
	if err != nil {
		return nil, err
	}

	return &capture.Capture{
		Backend: backend,
		Config: capture.Config{
			OutputDir:  recordingDir,
			SampleRate: 16000,
			Channels:   1,
			Input:      settings.CaptureInput,
		},
		Logger: a.log(),
	}, nil
}

// ensureModelAvailable downloads a missing named model; custom model paths
// must already exist.
func (a *appState) ensureModelAvailable(ctx context.Context, modelRef, modelDir string) error {
	resolved, err := engine.ResolveModel(modelRef, modelDir)
	if err != nil {
		return err
	}

	if !resolved.NeedsDownload {
		return nil
	}
	if resolved.IsCustomPath {
		return fmt.Errorf("model file not found: %s", resolved.Path)
	}

	a.log().Info("downloading model",
		zap.String("model", resolved.Name),
		zap.String("path", resolved.Path))

	if err := download.File(ctx, download.Options{
		URL:            resolved.URL,
		Destination:    resolved.Path,
		ExpectedSHA256: resolved.SHA256,
		Description:    "downloading " + resolved.Name,
		NoProgress:     a.noProgress,
		Logger:         a.log(),
	}); err != nil {
		return fmt.Errorf("download model %s: %w", resolved.Name, err)
	}

	return nil
}

// cleanupMachine drains the machine into an acknowledgeable state so cleanup
// never leaves a failed session behind.
func cleanupMachine(machine *session.Machine) {
	if machine.State() == session.StateFailed {
		_, _ = machine.Acknowledge()
	}
}
