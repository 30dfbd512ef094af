package midisetup

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingListener struct {
	name   string
	calls  atomic.Int64
	onCall func()
}

func (l *countingListener) MidiDevicesChanged() {
	l.calls.Add(1)
	if l.onCall != nil {
		l.onCall()
	}
}

// fakeLister returns whatever device list the test last set
type fakeLister struct {
	mu      sync.Mutex
	devices []Device
	err     error
}

func (f *fakeLister) Devices() ([]Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Device(nil), f.devices...), f.err
}

func (f *fakeLister) set(devices ...Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = devices
}

func newTestSetup(t *testing.T, lister DeviceLister, opts ...Option) *Setup {
	t.Helper()
	s := New(append([]Option{WithDeviceLister(lister)}, opts...)...)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddListenerIsIdempotent(t *testing.T) {
	s := newTestSetup(t, &fakeLister{})
	listener := &countingListener{name: "keys"}

	AddListener(s, listener)
	AddListener(s, listener)

	assert.Equal(t, 1, s.ListenerCount())
	assert.Equal(t, 1, s.NotifyDevicesChanged())
	assert.Equal(t, int64(1), listener.calls.Load())
}

func TestRemoveListener(t *testing.T) {
	s := newTestSetup(t, &fakeLister{})
	keep := &countingListener{name: "keep"}
	drop := &countingListener{name: "drop"}

	AddListener(s, keep)
	AddListener(s, drop)
	RemoveListener(s, drop)
	RemoveListener(s, drop)
	RemoveListener(s, &countingListener{name: "never added"})

	s.NotifyDevicesChanged()

	assert.Equal(t, 1, s.ListenerCount())
	assert.Equal(t, int64(1), keep.calls.Load())
	assert.Zero(t, drop.calls.Load())
}

func TestNilListenerIsIgnored(t *testing.T) {
	s := newTestSetup(t, &fakeLister{})

	var listener *countingListener
	AddListener(s, listener)
	RemoveListener(s, listener)

	assert.Zero(t, s.ListenerCount())
}

func registerTransientListener(s *Setup) {
	AddListener(s, &countingListener{name: "transient"})
}

func TestRegistryDoesNotKeepListenersAlive(t *testing.T) {
	s := newTestSetup(t, &fakeLister{})
	kept := &countingListener{name: "kept"}
	AddListener(s, kept)
	registerTransientListener(s)

	assert.Eventually(t, func() bool {
		runtime.GC()
		return s.ListenerCount() == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, s.NotifyDevicesChanged())
	assert.Equal(t, int64(1), kept.calls.Load())
	runtime.KeepAlive(kept)
}

func TestListenerMayRemoveItselfDuringNotification(t *testing.T) {
	s := newTestSetup(t, &fakeLister{})
	listener := &countingListener{name: "once"}
	listener.onCall = func() { RemoveListener(s, listener) }
	AddListener(s, listener)

	assert.Equal(t, 1, s.NotifyDevicesChanged())
	assert.Equal(t, 0, s.NotifyDevicesChanged())
	assert.Equal(t, int64(1), listener.calls.Load())
}

func TestPollNotifiesOnlyOnChange(t *testing.T) {
	lister := &fakeLister{}
	s := newTestSetup(t, lister)
	listener := &countingListener{}
	AddListener(s, listener)

	lister.set(Device{ID: "a"}, Device{ID: "b"})
	changed, err := s.Poll()
	require.NoError(t, err)
	assert.True(t, changed)

	lister.set(Device{ID: "b"}, Device{ID: "a"})
	changed, err = s.Poll()
	require.NoError(t, err)
	assert.False(t, changed, "reordering is not a change")

	lister.set(Device{ID: "b"})
	changed, err = s.Poll()
	require.NoError(t, err)
	assert.True(t, changed)

	assert.Equal(t, int64(2), listener.calls.Load())
}

func TestPollError(t *testing.T) {
	lister := &fakeLister{err: errors.New("driver gone")}
	s := newTestSetup(t, lister)

	_, err := s.Poll()
	assert.ErrorContains(t, err, "driver gone")
}

func TestWatcherFiresOnDeviceChange(t *testing.T) {
	lister := &fakeLister{}
	lister.set(Device{ID: "midiC0D0"})
	s := newTestSetup(t, lister, WithPollInterval(5*time.Millisecond))
	listener := &countingListener{}
	AddListener(s, listener)

	require.NoError(t, s.Start(context.Background()))

	// the starting device set is a snapshot, not a change
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, listener.calls.Load())

	lister.set(Device{ID: "midiC0D0"}, Device{ID: "midiC1D0"})
	assert.Eventually(t, func() bool {
		return listener.calls.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStartErrors(t *testing.T) {
	unsupported := newTestSetup(t, nil)
	assert.False(t, unsupported.SupportsMidi())
	assert.ErrorIs(t, unsupported.Start(context.Background()), ErrUnsupported)
	_, err := unsupported.Devices()
	assert.ErrorIs(t, err, ErrUnsupported)

	s := newTestSetup(t, &fakeLister{}, WithPollInterval(time.Hour))
	assert.True(t, s.SupportsMidi())
	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Start(context.Background()), ErrClosed)
}

func TestCloseIsIdempotentAndClearsRegistry(t *testing.T) {
	s := newTestSetup(t, &fakeLister{}, WithPollInterval(time.Millisecond))
	listener := &countingListener{}
	AddListener(s, listener)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.Zero(t, s.ListenerCount())
	AddListener(s, listener)
	assert.Zero(t, s.ListenerCount(), "registration after close is ignored")
}

func TestListenerCanCloseFromWatcher(t *testing.T) {
	lister := &fakeLister{}
	s := newTestSetup(t, lister, WithPollInterval(5*time.Millisecond))

	closed := make(chan error, 1)
	listener := &countingListener{}
	listener.onCall = func() { closed <- s.Close() }
	AddListener(s, listener)
	require.NoError(t, s.Start(context.Background()))

	lister.set(Device{ID: "midiC2D0"})

	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close from a listener did not return")
	}

	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not exit after Close")
	}
	assert.Equal(t, int64(1), listener.calls.Load())
	assert.Zero(t, s.ListenerCount())
}

func TestWatcherStopsWithContext(t *testing.T) {
	s := newTestSetup(t, &fakeLister{}, WithPollInterval(time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))

	cancel()
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop after context cancellation")
	}
}

func TestConcurrentRegistrationAndNotification(t *testing.T) {
	s := newTestSetup(t, &fakeLister{})
	listeners := make([]*countingListener, 32)
	for i := range listeners {
		listeners[i] = &countingListener{}
	}

	var wg sync.WaitGroup
	for _, l := range listeners {
		wg.Add(2)
		go func() {
			defer wg.Done()
			AddListener(s, l)
		}()
		go func() {
			defer wg.Done()
			s.NotifyDevicesChanged()
		}()
	}
	wg.Wait()

	assert.Equal(t, len(listeners), s.ListenerCount())
	runtime.KeepAlive(listeners)
}

func TestSndDirLister(t *testing.T) {
	fs := afero.NewMemMapFs()
	for _, node := range []string{"midiC0D0", "midiC1D0", "pcmC0D0p", "controlC0", "seq"} {
		require.NoError(t, afero.WriteFile(fs, "/dev/snd/"+node, nil, 0o644))
	}
	require.NoError(t, afero.WriteFile(fs, "/proc/asound/card1/id", []byte("MPKmini\n"), 0o644))

	devices, err := NewSndDirLister(fs).Devices()
	require.NoError(t, err)

	assert.ElementsMatch(t, []Device{
		{ID: "midiC0D0", Name: "Card 0 MIDI 0"},
		{ID: "midiC1D0", Name: "MPKmini MIDI 0"},
	}, devices)
}

func TestSndDirListerWithoutSoundDevices(t *testing.T) {
	devices, err := NewSndDirLister(afero.NewMemMapFs()).Devices()
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestSameDevices(t *testing.T) {
	assert.True(t, sameDevices(nil, []Device{}))
	assert.True(t, sameDevices([]Device{{ID: "a"}, {ID: "b"}}, []Device{{ID: "b", Name: "renamed"}, {ID: "a"}}))
	assert.False(t, sameDevices([]Device{{ID: "a"}}, []Device{{ID: "b"}}))
	assert.False(t, sameDevices([]Device{{ID: "a"}}, nil))
}
