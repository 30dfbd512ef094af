//go:build linux

package midisetup

import "github.com/spf13/afero"

func platformLister() DeviceLister {
	return NewSndDirLister(afero.NewOsFs())
}
