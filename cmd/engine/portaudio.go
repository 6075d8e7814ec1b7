//go:build portaudio

package main

import (
	"pipelined.dev/engine/block"
	"pipelined.dev/engine/portaudio"
)

func init() {
	devices["portaudio"] = openPortaudio
}

func openPortaudio(c consumer, specs block.Specs) (device, error) {
	d, err := portaudio.NewDevice(c, specs, 0)
	if err != nil {
		return nil, err
	}
	if err := d.Open(); err != nil {
		return nil, err
	}
	return d, nil
}
