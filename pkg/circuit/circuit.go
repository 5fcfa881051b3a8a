// Package circuit implements a per-name circuit breaker used to stop
// hammering a consistently failing task (typically one touching a
// flaky external resource) once it has failed often enough.
package circuit

import (
	"sync"
	"time"
)

// State is the lifecycle state of a single circuit.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half-open"
)

type circuitEntry struct {
	state       State
	failures    int
	threshold   int
	cooldown    time.Duration
	lastOpened  time.Time
	probeInFlight bool
}

// Breaker tracks independent circuits by name.
type Breaker struct {
	mu       sync.Mutex
	circuits map[string]*circuitEntry

	defaultThreshold int
	defaultCooldown  time.Duration

	now func() time.Time
}

// NewBreaker creates a breaker using the given defaults for any circuit
// that isn't explicitly configured via Configure.
func NewBreaker(defaultThreshold int, defaultCooldown time.Duration) *Breaker {
	if defaultThreshold <= 0 {
		defaultThreshold = 5
	}
	return &Breaker{
		circuits:         make(map[string]*circuitEntry),
		defaultThreshold: defaultThreshold,
		defaultCooldown:  defaultCooldown,
		now:              time.Now,
	}
}

// Configure sets an explicit threshold/cooldown for a named circuit,
// creating it in the closed state if it doesn't exist yet.
func (b *Breaker) Configure(name string, threshold int, cooldown time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry := b.entryLocked(name)
	if threshold > 0 {
		entry.threshold = threshold
	}
	entry.cooldown = cooldown
}

func (b *Breaker) entryLocked(name string) *circuitEntry {
	entry, ok := b.circuits[name]
	if !ok {
		entry = &circuitEntry{
			state:     Closed,
			threshold: b.defaultThreshold,
			cooldown:  b.defaultCooldown,
		}
		b.circuits[name] = entry
	}
	return entry
}

// Allow reports whether a call against the named circuit may proceed,
// and if not, how long until the next retry is permitted.
func (b *Breaker) Allow(name string) (allowed bool, timeUntilRetry time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry := b.entryLocked(name)

	switch entry.state {
	case Closed:
		return true, 0
	case Open:
		remaining := entry.cooldown - b.now().Sub(entry.lastOpened)
		if remaining <= 0 {
			entry.state = HalfOpen
			entry.probeInFlight = true
			return true, 0
		}
		return false, remaining
	case HalfOpen:
		if entry.probeInFlight {
			// one probe at a time; everyone else fails fast until it resolves
			return false, entry.cooldown - b.now().Sub(entry.lastOpened)
		}
		entry.probeInFlight = true
		return true, 0
	}
	return true, 0
}

// RecordSuccess closes the circuit (from open or half-open) and clears
// its failure count.
func (b *Breaker) RecordSuccess(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry := b.entryLocked(name)
	entry.state = Closed
	entry.failures = 0
	entry.probeInFlight = false
}

// RecordFailure increments the rolling failure count and, once the
// threshold is reached (or a half-open probe fails), opens the circuit.
func (b *Breaker) RecordFailure(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry := b.entryLocked(name)
	entry.probeInFlight = false

	if entry.state == HalfOpen {
		entry.state = Open
		entry.lastOpened = b.now()
		return
	}

	entry.failures++
	if entry.failures >= entry.threshold {
		entry.state = Open
		entry.lastOpened = b.now()
	}
}

// State returns the current state of a named circuit (Closed if never seen).
func (b *Breaker) State(name string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if entry, ok := b.circuits[name]; ok {
		return entry.state
	}
	return Closed
}

// TimeUntilRetry returns how long remains before an open circuit will
// allow a half-open probe; zero if the circuit isn't open or is ready now.
func (b *Breaker) TimeUntilRetry(name string) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.circuits[name]
	if !ok || entry.state != Open {
		return 0
	}
	remaining := entry.cooldown - b.now().Sub(entry.lastOpened)
	if remaining < 0 {
		return 0
	}
	return remaining
}
