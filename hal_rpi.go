//go:build linux && (arm || arm64) && !disablegpio

// This file provides the Raspberry Pi HAL using the periph.io library.  When
// cross-compiling for other platforms or when the build tag "disablegpio" is
// specified, hal.go is used instead.

package main

import (
    "fmt"
    "sync"

    // Use the new periph module layout.  See https://periph.io/news/2020/a_new_start/
    "periph.io/x/conn/v3/gpio"
    "periph.io/x/conn/v3/gpio/gpioreg"
    "periph.io/x/host/v3"
)

// periphLED drives one GPIO line through periph.
type periphLED struct {
    mu        sync.Mutex
    pin       gpio.PinIO
    activeLow bool
}

// openLED initialises the periph host and configures pin as an output that
// starts with the LED off.  Pins are addressed by their periph names, which
// for the Pi header are "GPIO<bcm number>".
func openLED(pin string, activeLow bool) (LED, error) {
    // host.Init can safely be called multiple times; later calls are no-ops.
    if _, err := host.Init(); err != nil {
        return nil, fmt.Errorf("periph host init: %w", err)
    }
    p := gpioreg.ByName(pin)
    if p == nil {
        return nil, fmt.Errorf("unknown gpio pin %q", pin)
    }
    if err := p.Out(gpio.Level(electrical(false, activeLow))); err != nil {
        return nil, fmt.Errorf("configure %s as output: %w", pin, err)
    }
    return &periphLED{pin: p, activeLow: activeLow}, nil
}

func (l *periphLED) Name() string { return l.pin.Name() }

// Read returns the level currently driven on the line.
func (l *periphLED) Read() (bool, error) {
    l.mu.Lock()
    defer l.mu.Unlock()
    return logical(bool(l.pin.Read()), l.activeLow), nil
}

func (l *periphLED) Set(on bool) error {
    l.mu.Lock()
    defer l.mu.Unlock()
    if err := l.pin.Out(gpio.Level(electrical(on, l.activeLow))); err != nil {
        return fmt.Errorf("write %s: %w", l.pin.Name(), err)
    }
    return nil
}

// Close releases the line.  The level is left as last written so the
// stored history still matches the LED.
func (l *periphLED) Close() error {
    l.mu.Lock()
    defer l.mu.Unlock()
    return l.pin.Halt()
}
