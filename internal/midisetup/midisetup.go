// Package midisetup keeps an owned registry of MIDI device-change listeners
// and a watcher that fires them when the platform's device set changes.
//
// Listeners are held through weak references: registering a listener never
// keeps it alive, and listeners collected by the garbage collector silently
// drop out of the registry.
package midisetup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"weak"
)

// Common MIDI setup errors
var (
	ErrUnsupported    = errors.New("MIDI is not supported on this platform")
	ErrAlreadyStarted = errors.New("device watcher already started")
	ErrClosed         = errors.New("MIDI setup is closed")
)

// DefaultPollInterval is how often the watcher asks the platform for devices
const DefaultPollInterval = time.Second

// Listener is notified when the set of available MIDI devices changes
type Listener interface {
	MidiDevicesChanged()
}

// Setup is the MIDI listener registry. Create it when the MIDI subsystem
// starts and Close it at shutdown.
type Setup struct {
	mu        sync.Mutex
	listeners map[any]func() Listener // weak.Pointer key -> strong resolver
	lister    DeviceLister
	interval  time.Duration

	devices    []Device
	cancel     context.CancelFunc
	done       chan struct{}
	closed     bool
	inCallback atomic.Bool // the watcher goroutine is notifying listeners
}

// Option configures a Setup
type Option func(*Setup)

// WithDeviceLister replaces the platform device lister. A nil lister makes
// the setup report that MIDI is unsupported.
func WithDeviceLister(lister DeviceLister) Option {
	return func(s *Setup) {
		s.lister = lister
	}
}

// WithPollInterval sets how often Start polls for device changes
func WithPollInterval(interval time.Duration) Option {
	return func(s *Setup) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// New creates a registry bound to the platform device lister
func New(opts ...Option) *Setup {
	s := &Setup{
		listeners: make(map[any]func() Listener),
		lister:    platformLister(),
		interval:  DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(s)
	}

	slog.Info("MIDI setup created",
		"supports_midi", s.lister != nil,
		"poll_interval", s.interval)
	return s
}

// SupportsMidi reports whether MIDI devices can be enumerated here
func (s *Setup) SupportsMidi() bool {
	return s.lister != nil
}

// AddListener registers listener without taking ownership of it. Adding a
// listener that is already registered has no effect.
func AddListener[T any, PT interface {
	*T
	Listener
}](s *Setup, listener PT) {
	if (*T)(listener) == nil {
		slog.Warn("attempted to register nil MIDI listener")
		return
	}

	ref := weak.Make((*T)(listener))
	s.add(ref, func() Listener {
		if p := ref.Value(); p != nil {
			return PT(p)
		}
		return nil
	})
}

// RemoveListener unregisters listener. Removing an unknown listener has no
// effect.
func RemoveListener[T any, PT interface {
	*T
	Listener
}](s *Setup, listener PT) {
	if (*T)(listener) == nil {
		return
	}
	s.remove(weak.Make((*T)(listener)))
}

func (s *Setup) add(key any, resolve func() Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		slog.Warn("MIDI listener registered after close, ignoring")
		return
	}
	if _, ok := s.listeners[key]; ok {
		slog.Debug("MIDI listener already registered")
		return
	}

	s.listeners[key] = resolve
	slog.Debug("MIDI listener registered", "total_listeners", len(s.listeners))
}

func (s *Setup) remove(key any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.listeners[key]; !ok {
		slog.Debug("MIDI listener not registered, nothing to remove")
		return
	}

	delete(s.listeners, key)
	slog.Debug("MIDI listener removed", "total_listeners", len(s.listeners))
}

// liveListeners resolves every registration, dropping collected listeners.
// Callers must hold s.mu.
func (s *Setup) liveListeners() []Listener {
	live := make([]Listener, 0, len(s.listeners))
	for key, resolve := range s.listeners {
		listener := resolve()
		if listener == nil {
			delete(s.listeners, key)
			continue
		}
		live = append(live, listener)
	}
	return live
}

// ListenerCount returns the number of registered listeners still alive
func (s *Setup) ListenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.liveListeners())
}

// NotifyDevicesChanged calls MidiDevicesChanged on every live listener and
// returns how many were notified. Listeners run outside the registry lock
// and may add or remove listeners.
func (s *Setup) NotifyDevicesChanged() int {
	s.mu.Lock()
	live := s.liveListeners()
	s.mu.Unlock()

	slog.Debug("notifying MIDI listeners", "listeners", len(live))
	for _, listener := range live {
		listener.MidiDevicesChanged()
	}
	return len(live)
}

// Devices returns the devices the platform currently reports
func (s *Setup) Devices() ([]Device, error) {
	if s.lister == nil {
		return nil, ErrUnsupported
	}
	devices, err := s.lister.Devices()
	if err != nil {
		return nil, fmt.Errorf("list MIDI devices: %w", err)
	}
	return devices, nil
}

// Poll lists devices once and notifies listeners if the set differs from
// the previous poll. It reports whether a change was seen.
func (s *Setup) Poll() (bool, error) {
	devices, err := s.Devices()
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	previous := s.devices
	changed := !sameDevices(previous, devices)
	s.devices = devices
	s.mu.Unlock()

	if !changed {
		return false, nil
	}

	slog.Info("MIDI device set changed",
		"previous_count", len(previous),
		"current_count", len(devices))
	s.NotifyDevicesChanged()
	return true, nil
}

// Start takes a snapshot of the current devices and polls for changes in
// the background until ctx is done or Close is called.
func (s *Setup) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.lister == nil {
		return ErrUnsupported
	}
	if s.cancel != nil {
		return ErrAlreadyStarted
	}

	devices, err := s.lister.Devices()
	if err != nil {
		slog.Error("initial MIDI device listing failed", "error", err)
		return fmt.Errorf("list MIDI devices: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.devices = devices
	s.cancel = cancel
	s.done = make(chan struct{})

	slog.Info("MIDI device watcher started",
		"devices", len(devices),
		"poll_interval", s.interval)

	go s.watch(ctx, s.done)
	return nil
}

func (s *Setup) watch(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("MIDI device watcher stopped")
			return
		case <-ticker.C:
			s.inCallback.Store(true)
			_, err := s.Poll()
			s.inCallback.Store(false)
			if err != nil {
				slog.Warn("MIDI device poll failed", "error", err)
			}
		}
	}
}

// Close stops the watcher and clears the registry. Calling Close again is a
// no-op. When called while the watcher is notifying listeners, Close cancels
// the watcher without waiting for it to exit.
func (s *Setup) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel, done := s.cancel, s.done
	clear(s.listeners)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		if !s.inCallback.Load() {
			<-done
		}
	}

	slog.Info("MIDI setup closed")
	return nil
}
