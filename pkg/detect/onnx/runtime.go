package onnx

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// EnvLibraryPath overrides the onnxruntime shared library location.
const EnvLibraryPath = "ONNXRUNTIME_LIB"

var (
	envOnce sync.Once
	envErr  error
)

// SharedLibPath returns the onnxruntime shared library for this platform.
func SharedLibPath() string {
	if p := os.Getenv(EnvLibraryPath); p != "" {
		return p
	}
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

// initEnvironment loads the shared library once per process.
func initEnvironment(libPath string) error {
	envOnce.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			envErr = fmt.Errorf("initialize onnxruntime (%s): %w", libPath, err)
		}
	})
	return envErr
}
