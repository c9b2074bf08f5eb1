package core

import (
	"errors"
	"fmt"
)

var (
	ErrShaderCompile      = errors.New("shader compilation failed")
	ErrPipelineNotReady   = errors.New("pipeline not ready")
	ErrMissingResource    = errors.New("missing resource")
	ErrResourceExpired    = errors.New("resource still missing after grace period")
	ErrFeatureUnsupported = errors.New("device feature unsupported")
	ErrDeviceLost         = errors.New("device lost")
	ErrPresentFailed      = errors.New("present failed")
	ErrFenceWaitTimeout   = errors.New("fence wait timed out")
	ErrSwapchainBooting   = errors.New("swapchain resized or recreated, booting")
	ErrUnknown            = errors.New("unknown")
)

// ShaderCompileError keeps the compiler output so it can be surfaced in logs.
type ShaderCompileError struct {
	Path    string
	Profile string
	Entry   string
	Output  string
	Err     error
}

func (e *ShaderCompileError) Error() string {
	msg := fmt.Sprintf("%s: %s (%s, entry %s)", ErrShaderCompile, e.Path, e.Profile, e.Entry)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Output != "" {
		msg += "\n" + e.Output
	}
	return msg
}

func (e *ShaderCompileError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrShaderCompile}
	}
	return []error{ErrShaderCompile, e.Err}
}

type FeatureUnsupportedError struct {
	Feature string
}

func (e *FeatureUnsupportedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrFeatureUnsupported, e.Feature)
}

func (e *FeatureUnsupportedError) Unwrap() error {
	return ErrFeatureUnsupported
}

// IsFatal reports whether err must stop the run loop.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	for _, fatal := range []error{ErrFeatureUnsupported, ErrDeviceLost, ErrPresentFailed, ErrFenceWaitTimeout, ErrResourceExpired} {
		if errors.Is(err, fatal) {
			return true
		}
	}
	return false
}
