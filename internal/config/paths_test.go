package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackageDir_Env(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvPackageDir, dir)

	got, err := PackageDir()
	require.NoError(t, err)
	assert.Equal(t, dir, got)
}

func TestPackageDir_EnvMissing(t *testing.T) {
	t.Setenv(EnvPackageDir, filepath.Join(t.TempDir(), "nope"))

	_, err := PackageDir()
	assert.True(t, errors.Is(err, ErrPackageDir))
}

func TestModelPath(t *testing.T) {
	dir := t.TempDir()
	models := filepath.Join(dir, ModelsDir)
	require.NoError(t, os.MkdirAll(models, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(models, "yolov8n.onnx"), []byte("x"), 0o644))

	t.Run("onnx_name", func(t *testing.T) {
		path, sub, err := ModelPath(dir, "yolov8n.onnx")
		require.NoError(t, err)
		assert.False(t, sub)
		assert.Equal(t, filepath.Join(models, "yolov8n.onnx"), path)
	})

	t.Run("pt_name_resolves_to_onnx", func(t *testing.T) {
		path, sub, err := ModelPath(dir, "yolov8n.pt")
		require.NoError(t, err)
		assert.True(t, sub)
		assert.Equal(t, filepath.Join(models, "yolov8n.onnx"), path)
	})

	t.Run("missing", func(t *testing.T) {
		_, _, err := ModelPath(dir, "yolov8x.onnx")
		assert.True(t, errors.Is(err, ErrModelNotFound))
	})

	t.Run("directory_is_not_a_model", func(t *testing.T) {
		require.NoError(t, os.MkdirAll(filepath.Join(models, "sub.onnx"), 0o755))
		_, _, err := ModelPath(dir, "sub.onnx")
		assert.True(t, errors.Is(err, ErrModelNotFound))
	})
}
