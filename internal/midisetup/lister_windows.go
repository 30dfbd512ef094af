//go:build windows

package midisetup

import (
	"fmt"
	"log/slog"
	"unsafe"

	"golang.org/x/sys/windows"
)

// midiInCaps mirrors MIDIINCAPSW
type midiInCaps struct {
	wMid           uint16
	wPid           uint16
	vDriverVersion uint32
	szPname        [32]uint16
	dwSupport      uint32
}

// midiOutCaps mirrors MIDIOUTCAPSW
type midiOutCaps struct {
	wMid           uint16
	wPid           uint16
	vDriverVersion uint32
	szPname        [32]uint16
	wTechnology    uint16
	wVoices        uint16
	wNotes         uint16
	wChannelMask   uint16
	dwSupport      uint32
}

var (
	winmm                 = windows.NewLazySystemDLL("winmm.dll")
	procMidiInGetNumDevs  = winmm.NewProc("midiInGetNumDevs")
	procMidiInGetDevCaps  = winmm.NewProc("midiInGetDevCapsW")
	procMidiOutGetNumDevs = winmm.NewProc("midiOutGetNumDevs")
	procMidiOutGetDevCaps = winmm.NewProc("midiOutGetDevCapsW")
)

// winmmLister enumerates MIDI ports through winmm.dll
type winmmLister struct{}

func platformLister() DeviceLister {
	return winmmLister{}
}

func (winmmLister) Devices() ([]Device, error) {
	if err := winmm.Load(); err != nil {
		return nil, fmt.Errorf("load winmm.dll: %w", err)
	}

	var devices []Device

	r0, _, _ := procMidiInGetNumDevs.Call()
	for i := uint32(0); i < uint32(r0); i++ {
		var caps midiInCaps
		r1, _, _ := procMidiInGetDevCaps.Call(uintptr(i), uintptr(unsafe.Pointer(&caps)), unsafe.Sizeof(caps))
		if r1 != 0 {
			slog.Warn("failed to get MIDI input capabilities", "device", i, "code", r1)
			continue
		}
		name := windows.UTF16ToString(caps.szPname[:])
		devices = append(devices, Device{
			ID:           fmt.Sprintf("in:%d:%s", i, name),
			Name:         name,
			Manufacturer: fmt.Sprintf("MID: %d PID: %d", caps.wMid, caps.wPid),
		})
	}

	r0, _, _ = procMidiOutGetNumDevs.Call()
	for i := uint32(0); i < uint32(r0); i++ {
		var caps midiOutCaps
		r1, _, _ := procMidiOutGetDevCaps.Call(uintptr(i), uintptr(unsafe.Pointer(&caps)), unsafe.Sizeof(caps))
		if r1 != 0 {
			slog.Warn("failed to get MIDI output capabilities", "device", i, "code", r1)
			continue
		}
		name := windows.UTF16ToString(caps.szPname[:])
		devices = append(devices, Device{
			ID:           fmt.Sprintf("out:%d:%s", i, name),
			Name:         name,
			Manufacturer: fmt.Sprintf("MID: %d PID: %d", caps.wMid, caps.wPid),
		})
	}

	return devices, nil
}
