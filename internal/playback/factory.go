//go:build cgo

package playback

import (
	"fmt"
	"log/slog"
	"slices"
)

// DefaultBackendFactory implements BackendFactory
type DefaultBackendFactory struct{}

// NewBackendFactory creates a new DefaultBackendFactory
func NewBackendFactory() BackendFactory {
	return &DefaultBackendFactory{}
}

// CreateBackend creates a Backend instance based on the specified type
func (f *DefaultBackendFactory) CreateBackend(backendType string) (Backend, error) {
	if backendType == "" {
		backendType = "auto"
	}

	slog.Debug("creating audio backend", "type", backendType)

	switch backendType {
	case "auto", "malgo":
		// miniaudio picks the platform's native API itself
		return NewMalgoBackend(), nil
	case "oto":
		return NewOtoBackend(), nil
	default:
		slog.Error("invalid backend type requested", "type", backendType)
		return nil, fmt.Errorf("%w: %s", ErrInvalidBackendType, backendType)
	}
}

// GetSupportedBackends returns a list of all supported backend types
func (f *DefaultBackendFactory) GetSupportedBackends() []string {
	return []string{"auto", "malgo", "oto"}
}

// IsValidBackendType checks if a backend type is supported
func (f *DefaultBackendFactory) IsValidBackendType(backendType string) bool {
	// Empty string is valid (defaults to auto)
	return backendType == "" || slices.Contains(f.GetSupportedBackends(), backendType)
}
