package main

import (
	"fmt"
	"strings"

	gomidi "gitlab.com/gomidi/midi/v2"

	"pipelined.dev/engine/midi"
)

// volumeController is the channel volume controller number.
const volumeController = 7

// listen connects the router to the first input whose name contains name.
// Inputs are only available when a driver is registered, see rtmidi.go.
func listen(r *midi.Router, name string) error {
	for _, in := range gomidi.GetInPorts() {
		if strings.Contains(strings.ToLower(in.String()), strings.ToLower(name)) {
			return r.Listen(in)
		}
	}
	return fmt.Errorf("no midi input matching %q", name)
}
