package clock

import (
	"sync"
	"time"
)

// Clock abstracts wall-clock time so that spacing and delay math can be
// tested without sleeping. All timestamps are UTC.
type Clock interface {
	Now() time.Time
}

// Real reads the system clock.
type Real struct{}

func (Real) Now() time.Time {
	return time.Now().UTC()
}

// New returns a real clock.
func New() Clock {
	return Real{}
}

// Mock is a manually advanced clock for tests.
type Mock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMock creates a mock clock frozen at the given instant.
func NewMock(start time.Time) *Mock {
	return &Mock{now: start.UTC()}
}

func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock clock forward by d.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set moves the mock clock to the given instant.
func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t.UTC()
}
