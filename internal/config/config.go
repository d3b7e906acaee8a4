// Package config loads dictation settings from an optional YAML file, the
// environment, and a local .env file for credentials. Settings are read once
// at startup and treated as immutable by the rest of the core.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	ProviderLocal = "local"
	ProviderCloud = "cloud"
)

// FallbackPolicy controls the single alternate transcription attempt after a
// primary provider failure.
type FallbackPolicy struct {
	AllowLocalFallback bool   `mapstructure:"allow_local_fallback"`
	AllowCloudFallback bool   `mapstructure:"allow_cloud_fallback"`
	FallbackModelID    string `mapstructure:"fallback_model_id"`
}

type Settings struct {
	Provider string `mapstructure:"provider"`
	ModelID  string `mapstructure:"model_id"`
	Language string `mapstructure:"language"`
	ModelDir string `mapstructure:"model_dir"`

	Fallback FallbackPolicy `mapstructure:"fallback"`

	TranscriptionTimeout time.Duration `mapstructure:"transcription_timeout"`

	CloudBaseURL string `mapstructure:"cloud_base_url"`
	CloudModelID string `mapstructure:"cloud_model_id"`
	CloudAPIKey  string `mapstructure:"cloud_api_key"`

	EnhanceEnabled   bool   `mapstructure:"enhance_enabled"`
	AgentName        string `mapstructure:"agent_name"`
	ReasoningBaseURL string `mapstructure:"reasoning_base_url"`
	ReasoningModelID string `mapstructure:"reasoning_model_id"`
	ReasoningAPIKey  string `mapstructure:"reasoning_api_key"`

	Hotkey string `mapstructure:"hotkey"`

	SilenceGate          bool    `mapstructure:"silence_gate"`
	SilenceThresholdDBFS float64 `mapstructure:"silence_threshold_dbfs"`

	CaptureBackend string `mapstructure:"capture_backend"`
	CaptureInput   string `mapstructure:"capture_input"`
}

// Load reads settings from the given config file path (optional, empty means
// search the working directory) layered under OPENWISPR_* environment
// variables. A .env file next to the working directory is loaded first so
// API keys can live outside the config file.
func Load(path string) (Settings, error) {
	// Missing .env is the common case, not an error.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("openwispr")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("openwispr")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/open-wispr")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Settings{}, fmt.Errorf("read config: %w", err)
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return Settings{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}

	return settings, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderLocal)
	v.SetDefault("model_id", "base")
	v.SetDefault("language", "auto")
	v.SetDefault("transcription_timeout", 30*time.Second)
	v.SetDefault("cloud_base_url", "https://api.openai.com/v1")
	v.SetDefault("cloud_model_id", "whisper-1")
	v.SetDefault("reasoning_base_url", "https://api.openai.com/v1")
	v.SetDefault("reasoning_model_id", "gpt-4o-mini")
	v.SetDefault("agent_name", "agent")
	v.SetDefault("hotkey", "toggle")
	v.SetDefault("silence_gate", true)
	v.SetDefault("silence_threshold_dbfs", -65.0)
	v.SetDefault("capture_backend", "auto")
}

func (s Settings) Validate() error {
	switch s.Provider {
	case ProviderLocal, ProviderCloud:
	default:
		return fmt.Errorf("unknown provider %q (want %s or %s)", s.Provider, ProviderLocal, ProviderCloud)
	}

	if s.TranscriptionTimeout <= 0 {
		return errors.New("transcription_timeout must be positive")
	}

	if s.Provider == ProviderCloud && strings.TrimSpace(s.CloudAPIKey) == "" {
		return errors.New("cloud provider selected but cloud_api_key is empty")
	}

	if s.EnhanceEnabled && strings.TrimSpace(s.ReasoningAPIKey) == "" {
		return errors.New("enhancement enabled but reasoning_api_key is empty")
	}

	return nil
}

// CloudConfigured reports whether the cloud transcription provider could be
// used, for fallback availability checks.
func (s Settings) CloudConfigured() bool {
	return strings.TrimSpace(s.CloudAPIKey) != ""
}
