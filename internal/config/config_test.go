package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "openwispr.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "provider: local\n")

	settings, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ProviderLocal, settings.Provider)
	require.Equal(t, "base", settings.ModelID)
	require.Equal(t, "auto", settings.Language)
	require.Equal(t, 30*time.Second, settings.TranscriptionTimeout)
	require.True(t, settings.SilenceGate)
	require.False(t, settings.EnhanceEnabled)
}

func TestLoadConfigFileOverrides(t *testing.T) {
	path := writeConfig(t, `
provider: local
model_id: small
language: de
transcription_timeout: 45s
fallback:
  allow_cloud_fallback: true
  fallback_model_id: whisper-1
cloud_api_key: sk-test
`)

	settings, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "small", settings.ModelID)
	require.Equal(t, "de", settings.Language)
	require.Equal(t, 45*time.Second, settings.TranscriptionTimeout)
	require.True(t, settings.Fallback.AllowCloudFallback)
	require.False(t, settings.Fallback.AllowLocalFallback)
	require.Equal(t, "whisper-1", settings.Fallback.FallbackModelID)
	require.True(t, settings.CloudConfigured())
}

func TestLoadRejectsCloudProviderWithoutKey(t *testing.T) {
	path := writeConfig(t, "provider: cloud\n")

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "cloud_api_key")
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	path := writeConfig(t, "provider: telepathy\n")

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsEnhancementWithoutKey(t *testing.T) {
	path := writeConfig(t, "provider: local\nenhance_enabled: true\n")

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "reasoning_api_key")
}

func TestValidateTimeout(t *testing.T) {
	t.Parallel()

	settings := Settings{Provider: ProviderLocal}
	require.Error(t, settings.Validate())

	settings.TranscriptionTimeout = time.Second
	require.NoError(t, settings.Validate())
}
