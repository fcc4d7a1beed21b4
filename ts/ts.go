package ts

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock wraps clockwork.Clock so that Now speaks the engine's native unit:
// UTC truncated to the millisecond.
type Clock struct {
	clock clockwork.Clock
}

func NewRealClock() *Clock {
	return NewClock(clockwork.NewRealClock())
}

// NewClock wraps any clockwork clock; tests pass a fake one.
func NewClock(c clockwork.Clock) *Clock {
	return &Clock{clock: c}
}

func (c *Clock) Now() time.Time {
	return c.clock.Now().UTC().Truncate(time.Millisecond)
}
