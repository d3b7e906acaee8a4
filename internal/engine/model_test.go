package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveModelNamedMissing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	resolved, err := ResolveModel("base", dir)
	require.NoError(t, err)
	require.Equal(t, "base", resolved.Name)
	require.Equal(t, filepath.Join(dir, "ggml-base.bin"), resolved.Path)
	require.True(t, resolved.NeedsDownload)
	require.NotEmpty(t, resolved.URL)
}

func TestResolveModelNamedPresent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ggml-tiny.bin"), []byte("model"), 0o644))

	resolved, err := ResolveModel("tiny", dir)
	require.NoError(t, err)
	require.False(t, resolved.NeedsDownload)
}

func TestResolveModelDefaultsToBase(t *testing.T) {
	t.Parallel()

	resolved, err := ResolveModel("", t.TempDir())
	require.NoError(t, err)
	require.Equal(t, DefaultModel, resolved.Name)
}

func TestResolveModelUnknownName(t *testing.T) {
	t.Parallel()

	_, err := ResolveModel("colossal", t.TempDir())
	require.Error(t, err)
	require.Contains(t, err.Error(), "known models")
}

func TestResolveModelCustomPath(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "custom.bin")
	require.NoError(t, os.WriteFile(path, []byte("model"), 0o644))

	resolved, err := ResolveModel(path, "")
	require.NoError(t, err)
	require.True(t, resolved.IsCustomPath)
	require.Equal(t, path, resolved.Path)

	_, err = ResolveModel(filepath.Join(t.TempDir(), "missing.bin"), "")
	require.Error(t, err)
}

func TestResolveModelRequiresModelDirForNamedModel(t *testing.T) {
	t.Parallel()

	_, err := ResolveModel("base", "")
	require.Error(t, err)
}

func TestModelNamesSorted(t *testing.T) {
	t.Parallel()

	names := ModelNames()
	require.Contains(t, names, "base")
	require.Contains(t, names, "turbo")
	require.IsIncreasing(t, names)
}

func TestDeleteModel(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "ggml-tiny.bin")
	require.NoError(t, os.WriteFile(path, []byte("model-bytes"), 0o644))

	freed, err := DeleteModel("tiny", dir)
	require.NoError(t, err)
	require.Equal(t, int64(len("model-bytes")), freed)
	require.NoFileExists(t, path)

	_, err = DeleteModel("tiny", dir)
	require.Error(t, err)

	_, err = DeleteModel("colossal", dir)
	require.Error(t, err)
}
