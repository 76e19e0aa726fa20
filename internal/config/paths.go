package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvPackageDir overrides the installed package directory.
const EnvPackageDir = "YOLOBRIDGE_PACKAGE_DIR"

// ModelsDir is the weights directory below the package directory.
const ModelsDir = "models"

var (
	// ErrPackageDir is returned when the package directory cannot be resolved.
	ErrPackageDir = errors.New("config: package directory not found")

	// ErrModelNotFound is returned when the model weights file does not exist.
	ErrModelNotFound = errors.New("config: model file not found")
)

// PackageDir returns the installed package directory. YOLOBRIDGE_PACKAGE_DIR
// wins when set; otherwise the executable's directory is used if it holds a
// models directory, falling back to the working directory.
func PackageDir() (string, error) {
	if dir := os.Getenv(EnvPackageDir); dir != "" {
		if !isDir(dir) {
			return "", fmt.Errorf("%w: %s=%s", ErrPackageDir, EnvPackageDir, dir)
		}
		return filepath.Abs(dir)
	}

	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		if isDir(filepath.Join(dir, ModelsDir)) {
			return dir, nil
		}
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPackageDir, err)
	}
	return wd, nil
}

// ModelPath returns <pkgDir>/models/<modelFile>. PyTorch weight names (.pt)
// resolve to the ONNX export with the same base name, which is the only
// format the detector backends read. The second return value reports whether
// that substitution happened.
func ModelPath(pkgDir, modelFile string) (string, bool, error) {
	path := filepath.Join(pkgDir, ModelsDir, modelFile)

	substituted := false
	if strings.EqualFold(filepath.Ext(modelFile), ".pt") {
		path = strings.TrimSuffix(path, filepath.Ext(path)) + ".onnx"
		substituted = true
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", substituted, fmt.Errorf("%w: %s", ErrModelNotFound, path)
	}
	return path, substituted, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
