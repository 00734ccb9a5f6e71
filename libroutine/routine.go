// Package libroutine runs recurring work behind a circuit breaker.
package libroutine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("libroutine: circuit open")

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Routine is a circuit breaker: after threshold consecutive failures it
// rejects work until resetTimeout has passed, then admits a single trial call.
type Routine struct {
	mu           sync.Mutex
	state        State
	failures     int
	threshold    int
	resetTimeout time.Duration
	lastFailure  time.Time
	trialRunning bool
}

func NewRoutine(threshold int, resetTimeout time.Duration) *Routine {
	if threshold < 1 {
		threshold = 1
	}
	return &Routine{threshold: threshold, resetTimeout: resetTimeout}
}

// Allow reports whether a call may proceed. In the half-open state only the
// first caller is admitted until that trial reports back.
func (rm *Routine) Allow() bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.advance()
	switch rm.state {
	case Closed:
		return true
	case HalfOpen:
		if rm.trialRunning {
			return false
		}
		rm.trialRunning = true
		return true
	}
	return false
}

// advance moves Open to HalfOpen once the reset timeout elapsed. Caller holds mu.
func (rm *Routine) advance() {
	if rm.state == Open && time.Since(rm.lastFailure) >= rm.resetTimeout {
		rm.state = HalfOpen
		rm.trialRunning = false
	}
}

func (rm *Routine) MarkSuccess() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.state = Closed
	rm.failures = 0
	rm.trialRunning = false
}

func (rm *Routine) MarkFailure() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.failures++
	rm.lastFailure = time.Now()
	rm.trialRunning = false
	if rm.state == HalfOpen || rm.failures >= rm.threshold {
		rm.state = Open
	}
}

// Execute runs fn if the breaker allows it and records the outcome.
func (rm *Routine) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !rm.Allow() {
		return ErrCircuitOpen
	}
	if err := fn(ctx); err != nil {
		rm.MarkFailure()
		return err
	}
	rm.MarkSuccess()
	return nil
}

// ExecuteWithRetry calls Execute up to attempts times, sleeping interval
// between tries. It stops early on success, an open circuit or ctx done.
func (rm *Routine) ExecuteWithRetry(ctx context.Context, interval time.Duration, attempts int, fn func(ctx context.Context) error) error {
	var err error
	for i := range attempts {
		err = rm.Execute(ctx, fn)
		if err == nil || errors.Is(err, ErrCircuitOpen) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return err
}

// Loop runs fn once immediately, then on every tick of interval and on every
// value received from triggerChan, until ctx is done. Errors from fn, and
// ErrCircuitOpen for triggered runs that were rejected, go to onErr.
//
// While the circuit is open, ticks are skipped. Once it turns half-open the
// trial is issued on the following tick.
func (rm *Routine) Loop(ctx context.Context, interval time.Duration, triggerChan <-chan struct{}, fn func(ctx context.Context) error, onErr func(err error)) {
	run := func() {
		if err := rm.Execute(ctx, fn); err != nil && onErr != nil {
			onErr(err)
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	run()
	armed := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-triggerChan:
			armed = false
			run()
		case <-ticker.C:
			switch rm.GetState() {
			case Open:
				continue
			case HalfOpen:
				if !armed {
					armed = true
					continue
				}
			}
			armed = false
			run()
		}
	}
}

// GetState reports the current state, moving Open to HalfOpen when due.
func (rm *Routine) GetState() State {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.advance()
	return rm.state
}

func (rm *Routine) ForceOpen() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.state = Open
	rm.lastFailure = time.Now()
	rm.trialRunning = false
}

func (rm *Routine) ForceClose() {
	rm.MarkSuccess()
}

func (rm *Routine) GetThreshold() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.threshold
}

func (rm *Routine) GetResetTimeout() time.Duration {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.resetTimeout
}
