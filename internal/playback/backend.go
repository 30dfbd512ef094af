package playback

import (
	"context"
	"errors"

	"github.com/gopxl/beep"
)

// Common errors for Backend implementations
var (
	ErrBackendNotAvailable = errors.New("audio backend not available")
	ErrBackendClosed       = errors.New("audio backend is closed")
	ErrInvalidBackendType  = errors.New("invalid backend type")
)

// Backend plays a beep stream on an output device
type Backend interface {
	// Name identifies the backend in logs and errors
	Name() string

	// Play blocks until stream is drained or ctx is done. Cancellation is
	// not an error.
	Play(ctx context.Context, stream beep.Streamer, sampleRate beep.SampleRate) error

	IsPlaying() bool
	Close() error
}

// BackendFactory creates Backend instances based on configuration
type BackendFactory interface {
	CreateBackend(backendType string) (Backend, error)
	GetSupportedBackends() []string
	IsValidBackendType(backendType string) bool
}
