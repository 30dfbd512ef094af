//go:build darwin && cgo

package midisetup

import (
	"fmt"
	"log/slog"

	"github.com/youpy/go-coremidi"
)

// coreMidiLister enumerates CoreMIDI sources and destinations
type coreMidiLister struct{}

func platformLister() DeviceLister {
	return coreMidiLister{}
}

func (coreMidiLister) Devices() ([]Device, error) {
	sources, err := coremidi.AllSources()
	if err != nil {
		return nil, fmt.Errorf("error listing MIDI sources: %w", err)
	}
	destinations, err := coremidi.AllDestinations()
	if err != nil {
		return nil, fmt.Errorf("error listing MIDI destinations: %w", err)
	}

	devices := make([]Device, 0, len(sources)+len(destinations))
	for _, source := range sources {
		entity := source.Entity()
		devices = append(devices, Device{
			ID:           "in:" + entity.Name() + "/" + source.Name(),
			Name:         source.Name(),
			Manufacturer: entity.Manufacturer(),
		})
	}
	for _, destination := range destinations {
		entity := destination.Entity()
		devices = append(devices, Device{
			ID:           "out:" + entity.Name() + "/" + destination.Name(),
			Name:         destination.Name(),
			Manufacturer: entity.Manufacturer(),
		})
	}

	slog.Debug("listed CoreMIDI endpoints",
		"sources", len(sources),
		"destinations", len(destinations))
	return devices, nil
}
