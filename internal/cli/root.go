// Package cli wires the dictation pipeline into a cobra command tree.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/HeroTools/open-wispr/internal/automation"
	"github.com/HeroTools/open-wispr/internal/config"
	"github.com/HeroTools/open-wispr/internal/logging"
	"github.com/HeroTools/open-wispr/internal/platform"
	"github.com/HeroTools/open-wispr/internal/version"
)

type appState struct {
	configPath string
	verbose    bool
	jsonLogs   bool
	noProgress bool

	model    string
	modelDir string
	language string
	provider string

	logger   *zap.Logger
	settings config.Settings
	out      io.Writer
	in       io.Reader

	surfaceFn func(*zap.Logger) (automation.Surface, error)
}

func NewRootCmd() *cobra.Command {
	app := &appState{
		out:       os.Stdout,
		in:        os.Stdin,
		surfaceFn: automation.New,
	}

	cmd := &cobra.Command{
		Use:           "open-wispr",
		Short:         "Voice dictation: record, transcribe, and paste into the focused app",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Resolve(),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := logging.New(logging.Options{Verbose: app.verbose, JSON: app.jsonLogs})
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			app.logger = logger

			settings, err := config.Load(app.configPath)
			if err != nil {
				return err
			}
			app.settings = app.applyOverrides(settings)
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runDictation(cmd.Context())
		},
	}

	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	bindLoggingFlags(cmd, app)
	bindProgressFlag(cmd, app)
	bindModelFlags(cmd, app)
	cmd.PersistentFlags().StringVar(&app.configPath, "config", "", "Config file path (default: ./openwispr.yaml, ~/.config/open-wispr)")
	cmd.Flags().StringVar(&app.language, "language", "", "Language code (auto|en|de|...) for transcription")
	cmd.Flags().StringVar(&app.provider, "provider", "", "Transcription provider: local|cloud")

	cmd.AddCommand(newSetupCmd(app))
	cmd.AddCommand(newModelsCmd(app))
	cmd.AddCommand(newDevicesCmd(app))
	cmd.AddCommand(newDoctorCmd(app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func bindLoggingFlags(cmd *cobra.Command, app *appState) {
	cmd.PersistentFlags().BoolVar(&app.verbose, "verbose", app.verbose, "Enable verbose logs")
	cmd.PersistentFlags().BoolVar(&app.jsonLogs, "json", app.jsonLogs, "Enable JSON logging")
}

func bindProgressFlag(cmd *cobra.Command, app *appState) {
	cmd.PersistentFlags().BoolVar(&app.noProgress, "no-progress", app.noProgress, "Disable progress indicators")
}

func bindModelFlags(cmd *cobra.Command, app *appState) {
	cmd.PersistentFlags().StringVar(&app.model, "model", app.model, "Model name or model file path")
	cmd.PersistentFlags().StringVar(&app.modelDir, "model-dir", app.modelDir, "Directory where models are stored")
}

// applyOverrides layers explicit flags over the loaded config so a one-off
// `--model small` does not require editing the config file.
func (a *appState) applyOverrides(settings config.Settings) config.Settings {
	if a.model != "" {
		settings.ModelID = a.model
	}
	if a.modelDir != "" {
		settings.ModelDir = a.modelDir
	}
	if a.language != "" {
		settings.Language = sanitizeLanguage(a.language)
	}
	if a.provider != "" {
		settings.Provider = a.provider
	}
	return settings
}

func sanitizeLanguage(language string) string {
	trimmed := strings.ToLower(strings.TrimSpace(language))
	if trimmed == "" {
		return "auto"
	}
	return trimmed
}

func (a *appState) modelStorageDir() (string, error) {
	dir, err := platform.ResolveModelDir(a.settings.ModelDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create model directory %s: %w", dir, err)
	}
	return dir, nil
}

func (a *appState) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}

func (a *appState) outWriter() io.Writer {
	if a.out == nil {
		return os.Stdout
	}
	return a.out
}
