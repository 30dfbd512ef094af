//go:build !cgo

package playback

import "errors"

var errCGORequired = errors.New(`codecbridge requires CGO support for audio playback.

To fix this issue:
1. Ensure CGO_ENABLED=1 (this is the default for native builds)
2. Install a C compiler:
   - Linux: sudo apt-get install build-essential
   - macOS: xcode-select --install
   - Windows: Install MinGW or Visual Studio Build Tools
3. Then run: go install codecbridge.dev/cmd/codecbridge`)

type stubBackendFactory struct{}

// NewBackendFactory returns a factory whose backends all need cgo
func NewBackendFactory() BackendFactory {
	return &stubBackendFactory{}
}

func (f *stubBackendFactory) CreateBackend(string) (Backend, error) {
	return nil, errors.Join(ErrBackendNotAvailable, errCGORequired)
}

func (f *stubBackendFactory) GetSupportedBackends() []string {
	return []string{}
}

func (f *stubBackendFactory) IsValidBackendType(string) bool {
	return false
}
