package main

import (
    "context"
    "errors"
    "fmt"
    "sync"
    "sync/atomic"
    "time"

    "github.com/google/uuid"
    "github.com/rs/zerolog"
)

// MinInterval is the shortest delay accepted between two toggles.
const MinInterval = 10 * time.Millisecond

// recordTimeout bounds the write of a measurement whose pin change has
// already happened, so shutdown cannot drop it.
const recordTimeout = 5 * time.Second

// Recorder persists one measurement.  *Store implements it.
type Recorder interface {
    Record(ctx context.Context, m Measurement) error
}

// BlinkerOptions configures a Blinker.  Zero values fall back to the
// defaults noted on each field.
type BlinkerOptions struct {
    Interval   time.Duration // delay after each toggle, default 1s
    MaxToggles int           // stop after this many toggles; 0 runs until cancelled
    Sinks      []Sink
    Metrics    *Metrics
    Logger     zerolog.Logger
    Now        func() time.Time // default time.Now
}

// BlinkerStatus is a point-in-time view of the loop.
type BlinkerStatus struct {
    Pin        string    `json:"pin"`
    Running    bool      `json:"running"`
    LEDState   bool      `json:"led_state"`
    Toggles    int       `json:"toggles"`
    IntervalMS int64     `json:"interval_ms"`
    LastToggle time.Time `json:"last_toggle,omitempty"`
    LastError  string    `json:"last_error,omitempty"`
}

// Blinker flips an LED forever, storing one measurement per flip.
type Blinker struct {
    led      LED
    recorder Recorder
    sinks    []Sink
    metrics  *Metrics
    log      zerolog.Logger
    now      func() time.Time
    max      int

    interval atomic.Int64 // nanoseconds

    mu         sync.Mutex
    running    bool
    state      bool
    toggles    int
    lastToggle time.Time
    lastErr    error
}

// NewBlinker wires a Blinker to its LED and recorder.
func NewBlinker(led LED, rec Recorder, opts BlinkerOptions) *Blinker {
    b := &Blinker{
        led:      led,
        recorder: rec,
        sinks:    opts.Sinks,
        metrics:  opts.Metrics,
        log:      opts.Logger.With().Str("component", "blinker").Str("pin", led.Name()).Logger(),
        now:      opts.Now,
        max:      opts.MaxToggles,
    }
    if b.now == nil {
        b.now = time.Now
    }
    interval := opts.Interval
    if interval <= 0 {
        interval = time.Second
    }
    if interval < MinInterval {
        interval = MinInterval
    }
    b.interval.Store(int64(interval))
    return b
}

// Interval returns the current delay between toggles.
func (b *Blinker) Interval() time.Duration {
    return time.Duration(b.interval.Load())
}

// SetInterval changes the delay used from the next sleep on.
func (b *Blinker) SetInterval(d time.Duration) error {
    if d < MinInterval {
        return fmt.Errorf("interval %s is below the minimum of %s", d, MinInterval)
    }
    if old := time.Duration(b.interval.Swap(int64(d))); old != d {
        b.log.Info().Dur("from", old).Dur("to", d).Msg("blink interval changed")
    }
    return nil
}

// Status reports what the loop is doing.
func (b *Blinker) Status() BlinkerStatus {
    b.mu.Lock()
    defer b.mu.Unlock()
    st := BlinkerStatus{
        Pin:        b.led.Name(),
        Running:    b.running,
        LEDState:   b.state,
        Toggles:    b.toggles,
        IntervalMS: b.Interval().Milliseconds(),
        LastToggle: b.lastToggle,
    }
    if b.lastErr != nil {
        st.LastError = b.lastErr.Error()
    }
    return st
}

// Run toggles the LED until ctx is cancelled, MaxToggles is reached, or the
// GPIO line fails.  Each iteration reads the line, writes the inverse, stores
// the new state and then sleeps.  Cancellation returns nil; a GPIO failure
// returns the wrapped I/O error.
func (b *Blinker) Run(ctx context.Context) error {
    b.mu.Lock()
    if b.running {
        b.mu.Unlock()
        return errors.New("blinker already running")
    }
    b.running = true
    b.mu.Unlock()
    defer func() {
        b.mu.Lock()
        b.running = false
        b.mu.Unlock()
    }()

    b.log.Info().Dur("interval", b.Interval()).Int("max_toggles", b.max).Msg("blinker started")
    timer := time.NewTimer(0)
    if !timer.Stop() {
        <-timer.C
    }
    defer timer.Stop()

    for n := 0; b.max == 0 || n < b.max; n++ {
        if err := ctx.Err(); err != nil {
            break
        }
        if err := b.toggle(ctx); err != nil {
            b.setErr(err)
            b.log.Error().Err(err).Msg("I/O error, blinker stopped")
            return err
        }
        if b.max > 0 && n+1 == b.max {
            break
        }
        timer.Reset(b.Interval())
        select {
        case <-ctx.Done():
            b.log.Info().Msg("blinker interrupted")
            return nil
        case <-timer.C:
        }
    }
    b.log.Info().Msg("blinker stopped")
    return nil
}

// toggle performs one flip.  Only GPIO failures are returned; storage and
// sink failures are logged.
func (b *Blinker) toggle(ctx context.Context) error {
    state, err := b.led.Read()
    if err != nil {
        return fmt.Errorf("read %s: %w", b.led.Name(), err)
    }
    next := !state
    if err := b.led.Set(next); err != nil {
        return fmt.Errorf("write %s: %w", b.led.Name(), err)
    }
    m := Measurement{ID: uuid.NewString(), Timestamp: b.now(), LEDState: next, Pin: b.led.Name()}

    b.mu.Lock()
    b.state = next
    b.toggles++
    b.lastToggle = m.Timestamp
    b.mu.Unlock()
    b.metrics.observeToggle(next)

    // The pin has flipped; the row is written even if ctx is cancelled now.
    rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
    defer cancel()
    start := time.Now()
    err = b.recorder.Record(rctx, m)
    b.metrics.observeRecord(time.Since(start), err)
    if err != nil {
        b.setErr(err)
        b.log.Error().Err(err).Bool("led_state", next).Msg("failed to record measurement")
        return nil
    }

    for _, s := range b.sinks {
        if err := s.Notify(ctx, m); err != nil {
            b.metrics.observeSinkFailure(s.Name())
            b.log.Warn().Err(err).Str("sink", s.Name()).Msg("sink notification failed")
        }
    }
    return nil
}

func (b *Blinker) setErr(err error) {
    b.mu.Lock()
    b.lastErr = err
    b.mu.Unlock()
}
