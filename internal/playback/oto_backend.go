//go:build cgo

package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/gopxl/beep"
)

// OtoBackend plays through an oto context. oto allows one context per
// process, so streams at another rate are resampled to the first rate used.
type OtoBackend struct {
	mutex   sync.Mutex
	otoCtx  *oto.Context
	rate    beep.SampleRate
	playing atomic.Bool
	closed  bool
}

// NewOtoBackend creates a backend; the oto context is created on first Play
func NewOtoBackend() *OtoBackend {
	slog.Debug("creating new OtoBackend")
	return &OtoBackend{}
}

// Name implements Backend
func (ob *OtoBackend) Name() string { return "oto" }

// IsPlaying implements Backend
func (ob *OtoBackend) IsPlaying() bool { return ob.playing.Load() }

func (ob *OtoBackend) ensureContext(sampleRate beep.SampleRate) (*oto.Context, beep.SampleRate, error) {
	ob.mutex.Lock()
	defer ob.mutex.Unlock()

	if ob.closed {
		return nil, 0, ErrBackendClosed
	}
	if ob.otoCtx != nil {
		return ob.otoCtx, ob.rate, nil
	}

	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   int(sampleRate),
		ChannelCount: 2,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("%w: failed to create oto context: %v", ErrBackendNotAvailable, err)
	}
	<-ready

	ob.otoCtx = otoCtx
	ob.rate = sampleRate
	slog.Info("oto context initialized", "sample_rate", sampleRate)
	return otoCtx, sampleRate, nil
}

// Play implements Backend
func (ob *OtoBackend) Play(ctx context.Context, stream beep.Streamer, sampleRate beep.SampleRate) error {
	otoCtx, contextRate, err := ob.ensureContext(sampleRate)
	if err != nil {
		return err
	}
	if contextRate != sampleRate {
		slog.Warn("oto context rate differs from stream, resampling",
			"stream_rate", sampleRate,
			"context_rate", contextRate)
		stream = beep.Resample(DefaultResampleQuality, sampleRate, contextRate, stream)
	}

	if err := otoCtx.Resume(); err != nil {
		return fmt.Errorf("failed to resume oto context: %w", err)
	}

	player := otoCtx.NewPlayer(newPCMReader(stream))
	defer player.Close()

	player.Play()
	ob.playing.Store(true)
	defer ob.playing.Store(false)

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			player.Pause()
			slog.Debug("oto playback cancelled", "reason", ctx.Err())
			return nil
		case <-ticker.C:
		}
	}

	if err := player.Err(); err != nil {
		return fmt.Errorf("oto player failed: %w", err)
	}
	return nil
}

// Close suspends the oto context. oto contexts cannot be destroyed.
func (ob *OtoBackend) Close() error {
	ob.mutex.Lock()
	defer ob.mutex.Unlock()

	if ob.closed {
		return nil
	}
	ob.closed = true

	if ob.otoCtx != nil {
		if err := ob.otoCtx.Suspend(); err != nil {
			return fmt.Errorf("failed to suspend oto context: %w", err)
		}
	}

	slog.Debug("OtoBackend closed")
	return nil
}
