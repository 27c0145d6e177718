//go:build !linux || !(arm || arm64) || disablegpio

// This file provides the desktop HAL.  It hands out an in-memory line so that
// the daemon, its API and its store can be run and tested without a board.
// On the Pi, hal_rpi.go is compiled instead.

package main

import "github.com/rs/zerolog/log"

// openLED returns an in-memory LED named after pin.  The line starts OFF,
// like the real implementation.
func openLED(pin string, activeLow bool) (LED, error) {
    log.Warn().Str("pin", pin).Msg("gpio disabled in this build, using in-memory line")
    return newMemLED(pin, activeLow), nil
}
