package session

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time so budget checks are deterministic in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Guard enforces the wall-clock budget of one invocation. The deadline is fixed
// when the guard is created; checks are polled at stage boundaries only.
type Guard struct {
	id       string
	clock    Clock
	start    time.Time
	deadline time.Time
	budget   time.Duration
}

// NewGuard starts a session now with the given budget.
func NewGuard(clock Clock, budget time.Duration) *Guard {
	if clock == nil {
		clock = SystemClock
	}
	return NewGuardAt(clock, clock.Now(), budget)
}

// NewGuardAt starts a session that began at start, for callers that learn the
// budget only after startup work has already used part of it.
func NewGuardAt(clock Clock, start time.Time, budget time.Duration) *Guard {
	if clock == nil {
		clock = SystemClock
	}
	return &Guard{
		id:       uuid.NewString(),
		clock:    clock,
		start:    start,
		deadline: start.Add(budget),
		budget:   budget,
	}
}

// ID identifies this invocation in logs, the ledger and events.
func (g *Guard) ID() string { return g.id }

func (g *Guard) Budget() time.Duration { return g.budget }

func (g *Guard) Deadline() time.Time { return g.deadline }

// Exhausted reports whether no time is left to start new work.
func (g *Guard) Exhausted() bool {
	return !g.clock.Now().Before(g.deadline)
}

// Remaining is the time left, never negative.
func (g *Guard) Remaining() time.Duration {
	if r := g.deadline.Sub(g.clock.Now()); r > 0 {
		return r
	}
	return 0
}

// Elapsed is the time since the session started.
func (g *Guard) Elapsed() time.Duration {
	return g.clock.Now().Sub(g.start)
}
