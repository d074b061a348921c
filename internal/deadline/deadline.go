package deadline

import (
	"sync"
	"time"
)

// MinCallWindow is the smallest remaining budget that justifies starting
// another network call. The controller is cooperative: it cannot
// interrupt an in-flight call, so callers check Remaining() before
// issuing one and abort when less than this window is left.
const MinCallWindow = 5 * time.Second

// Controller tracks elapsed wall-clock time for one question against a
// fixed budget. One Controller per question; a fresh one is created for
// every round.
type Controller struct {
	budget time.Duration
	now    func() time.Time

	mu    sync.Mutex
	start time.Time
}

// New creates a stopped controller with the given budget. Call Start
// when the question begins.
func New(budget time.Duration) *Controller {
	return &Controller{budget: budget, now: time.Now}
}

// Start records the current time and resets elapsed tracking.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = c.now()
}

// Elapsed returns time since Start, zero if never started.
func (c *Controller) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.start.IsZero() {
		return 0
	}
	return c.now().Sub(c.start)
}

// Remaining returns the unconsumed budget, floored at zero.
func (c *Controller) Remaining() time.Duration {
	remaining := c.budget - c.Elapsed()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Expired reports whether the budget is exhausted and the caller must
// finalize now.
func (c *Controller) Expired() bool {
	return c.Remaining() == 0
}

// Budget returns the configured budget.
func (c *Controller) Budget() time.Duration {
	return c.budget
}

// Status returns a snapshot suitable for logging and the
// get_time_remaining tool.
func (c *Controller) Status() Status {
	return Status{
		Elapsed:   c.Elapsed().Seconds(),
		Remaining: c.Remaining().Seconds(),
		Budget:    c.budget.Seconds(),
		Expired:   c.Expired(),
	}
}

// Status is a point-in-time view of the controller, in seconds.
type Status struct {
	Elapsed   float64 `json:"elapsed"`
	Remaining float64 `json:"remaining"`
	Budget    float64 `json:"budget"`
	Expired   bool    `json:"expired"`
}
