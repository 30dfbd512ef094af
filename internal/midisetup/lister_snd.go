package midisetup

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/afero"
)

const (
	defaultSndDir   = "/dev/snd"
	defaultCardsDir = "/proc/asound"
)

// rawMidiNode matches ALSA raw MIDI device nodes such as midiC1D0
var rawMidiNode = regexp.MustCompile(`^midiC(\d+)D(\d+)$`)

// SndDirLister finds ALSA raw MIDI devices by scanning the device directory
type SndDirLister struct {
	fs       afero.Fs
	sndDir   string
	cardsDir string
}

// NewSndDirLister scans /dev/snd on fs and names cards from /proc/asound
func NewSndDirLister(fs afero.Fs) *SndDirLister {
	return &SndDirLister{
		fs:       fs,
		sndDir:   defaultSndDir,
		cardsDir: defaultCardsDir,
	}
}

// Devices implements DeviceLister
func (l *SndDirLister) Devices() ([]Device, error) {
	entries, err := afero.ReadDir(l.fs, l.sndDir)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("no ALSA device directory", "dir", l.sndDir)
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", l.sndDir, err)
	}

	var devices []Device
	for _, entry := range entries {
		match := rawMidiNode.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		card, device := match[1], match[2]
		devices = append(devices, Device{
			ID:   entry.Name(),
			Name: fmt.Sprintf("%s MIDI %s", l.cardName(card), device),
		})
	}

	slog.Debug("scanned ALSA raw MIDI devices", "dir", l.sndDir, "devices", len(devices))
	return devices, nil
}

// cardName reads the card id, falling back to the card number
func (l *SndDirLister) cardName(card string) string {
	id, err := afero.ReadFile(l.fs, filepath.Join(l.cardsDir, "card"+card, "id"))
	if err != nil || len(strings.TrimSpace(string(id))) == 0 {
		return "Card " + card
	}
	return strings.TrimSpace(string(id))
}
