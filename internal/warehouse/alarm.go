package warehouse

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Alarm is fired when motion is detected.
type Alarm interface {
	Trigger()
}

// Signal drives an output such as a buzzer and LED pair.
type Signal interface {
	Set(on bool)
}

type nopAlarm struct{}

func (nopAlarm) Trigger() {}

// PatternAlarm toggles a Signal on and off for a fixed number of cycles.
// Triggers that arrive while a pattern is running are coalesced into it.
type PatternAlarm struct {
	signal Signal
	cycles int
	period time.Duration

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPatternAlarm returns an alarm that holds the signal on for half of each
// period and off for the other half.
func NewPatternAlarm(signal Signal, cycles int, period time.Duration) *PatternAlarm {
	if cycles < 1 {
		cycles = 1
	}
	if period <= 0 {
		period = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PatternAlarm{
		signal: signal,
		cycles: cycles,
		period: period,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Trigger starts the pattern unless one is already running.
func (a *PatternAlarm) Trigger() {
	if a.ctx.Err() != nil || !a.running.CompareAndSwap(false, true) {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.running.Store(false)
		a.run()
	}()
}

// Running reports whether a pattern is in progress.
func (a *PatternAlarm) Running() bool {
	return a.running.Load()
}

// Close stops any running pattern, leaves the signal off and waits for it.
func (a *PatternAlarm) Close() {
	a.cancel()
	a.wg.Wait()
}

func (a *PatternAlarm) run() {
	half := a.period / 2
	timer := time.NewTimer(half)
	defer timer.Stop()
	defer a.signal.Set(false)

	for i := 0; i < a.cycles; i++ {
		for _, on := range []bool{true, false} {
			a.signal.Set(on)
			timer.Reset(half)
			select {
			case <-a.ctx.Done():
				return
			case <-timer.C:
			}
		}
	}
}

// LogSignal writes signal transitions to the log, for hosts without GPIO.
type LogSignal struct {
	Logger *zap.Logger
}

// Set logs the new state.
func (s LogSignal) Set(on bool) {
	s.Logger.Debug("alarm signal", zap.Bool("on", on))
}
