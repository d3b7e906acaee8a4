package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestModelsStatusListsRegistry(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ggml-base.bin"), []byte("model"), 0o644))

	out, err := executeCommand(t, "models", "status", "--model-dir", dir)
	require.NoError(t, err)
	require.Contains(t, out, "Model directory: "+dir)
	require.Contains(t, out, "base")
	require.Contains(t, out, "not downloaded")
	require.Contains(t, out, "downloaded")
}

func TestModelsDeleteRemovesFile(t *testing.T) {
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "ggml-tiny.bin")
	require.NoError(t, os.WriteFile(modelPath, []byte("tiny-model-bytes"), 0o644))

	out, err := executeCommand(t, "models", "delete", "tiny", "--model-dir", dir)
	require.NoError(t, err)
	require.Contains(t, out, "Deleted tiny")

	_, statErr := os.Stat(modelPath)
	require.True(t, os.IsNotExist(statErr))
}

func TestModelsDeleteMissingModel(t *testing.T) {
	_, err := executeCommand(t, "models", "delete", "tiny", "--model-dir", t.TempDir())
	require.Error(t, err)
}

func TestModelsDeleteRequiresArgument(t *testing.T) {
	_, err := executeCommand(t, "models", "delete")
	require.Error(t, err)
}

func TestSetupRejectsCustomModelPath(t *testing.T) {
	dir := t.TempDir()
	custom := filepath.Join(dir, "my-model.bin")
	require.NoError(t, os.WriteFile(custom, []byte("custom"), 0o644))

	_, err := executeCommand(t, "setup", "--model", custom, "--model-dir", dir)
	require.Error(t, err)
	require.Contains(t, err.Error(), "named model")
}

func TestSetupReportsPresentModel(t *testing.T) {
	dir := t.TempDir()
	// turbo carries no pinned digest, so a present file passes verification.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ggml-large-v3-turbo.bin"), []byte("model"), 0o644))

	out, err := executeCommand(t, "setup", "--model", "turbo", "--model-dir", dir)
	require.NoError(t, err)
	require.Contains(t, out, "already present")
}
