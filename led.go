package main

import (
    "errors"
    "sync"
)

// LED is one GPIO output line with an LED attached.  Values are logical: true
// means the LED is lit, whatever the wiring polarity.
type LED interface {
    Name() string
    Read() (bool, error)
    Set(on bool) error
    Close() error
}

var errLEDClosed = errors.New("gpio line closed")

// memLED is an LED kept in memory.  It records the electrical level the way a
// real line would, so polarity handling is exercised off-board too.
type memLED struct {
    mu        sync.Mutex
    name      string
    activeLow bool
    level     bool
    writes    int
    closed    bool
    failRead  error
    failWrite error
}

func newMemLED(name string, activeLow bool) *memLED {
    return &memLED{name: name, activeLow: activeLow, level: electrical(false, activeLow)}
}

func (m *memLED) Name() string { return m.name }

func (m *memLED) Read() (bool, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    if m.closed {
        return false, errLEDClosed
    }
    if m.failRead != nil {
        return false, m.failRead
    }
    return logical(m.level, m.activeLow), nil
}

func (m *memLED) Set(on bool) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    if m.closed {
        return errLEDClosed
    }
    if m.failWrite != nil {
        return m.failWrite
    }
    m.level = electrical(on, m.activeLow)
    m.writes++
    return nil
}

func (m *memLED) Close() error {
    m.mu.Lock()
    defer m.mu.Unlock()
    m.closed = true
    return nil
}
