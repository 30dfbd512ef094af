package midisetup

import (
	"slices"
	"strings"
)

// Device describes one MIDI endpoint reported by the platform
type Device struct {
	ID           string // Stable identifier used for change detection
	Name         string // Display name
	Manufacturer string // Manufacturer, when the platform reports one
}

// DeviceLister enumerates the MIDI devices currently available
type DeviceLister interface {
	Devices() ([]Device, error)
}

// DeviceListerFunc adapts a function to the DeviceLister interface
type DeviceListerFunc func() ([]Device, error)

// Devices calls f()
func (f DeviceListerFunc) Devices() ([]Device, error) {
	return f()
}

// sameDevices reports whether two device lists hold the same IDs, ignoring order
func sameDevices(a, b []Device) bool {
	if len(a) != len(b) {
		return false
	}
	return slices.Equal(sortedIDs(a), sortedIDs(b))
}

func sortedIDs(devices []Device) []string {
	ids := make([]string, len(devices))
	for i, d := range devices {
		ids[i] = d.ID
	}
	slices.SortFunc(ids, strings.Compare)
	return ids
}
