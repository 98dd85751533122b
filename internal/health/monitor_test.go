package health

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCounters(t *testing.T) {
	m := New()
	m.Success()
	m.Success()
	m.Error("ServerStatus5xx")

	assert.Equal(t, int64(3), m.TotalRequests())
	assert.Equal(t, int64(1), m.TotalErrors())
	assert.Equal(t, 1, m.LiveErrors())
}

func TestWindowExpiry(t *testing.T) {
	clock := newFakeClock()
	m := NewWithNow(clock.Now)

	for i := 0; i < 10; i++ {
		m.Error("Timeout")
	}
	assert.Equal(t, 10, m.LiveErrors())

	clock.Advance(Window + time.Second)
	assert.Equal(t, 0, m.LiveErrors(), "records older than the window expire")
	assert.Equal(t, int64(10), m.TotalErrors(), "lifetime totals never expire")

	m.Error("Timeout")
	assert.Equal(t, 1, m.LiveErrors())
}

func TestShouldResetPoolThreshold(t *testing.T) {
	clock := newFakeClock()
	m := NewWithNow(clock.Now)

	for i := 0; i < ResetThreshold-1; i++ {
		m.Error("ConnectionReset")
	}
	assert.False(t, m.ShouldResetPool(), "below threshold")

	m.Error("ConnectionReset")
	assert.True(t, m.ShouldResetPool(), "at threshold")
}

func TestShouldResetPoolRateLimited(t *testing.T) {
	clock := newFakeClock()
	m := NewWithNow(clock.Now)

	errorBurst := func() {
		for i := 0; i < ResetThreshold; i++ {
			m.Error("OtherSocket")
		}
	}

	errorBurst()
	assert.True(t, m.ShouldResetPool())
	assert.False(t, m.ShouldResetPool(), "signal fires at most once")

	// Errors keep arriving but the interval has not elapsed.
	clock.Advance(ResetInterval / 2)
	errorBurst()
	assert.False(t, m.ShouldResetPool())

	clock.Advance(ResetInterval/2 + time.Second)
	errorBurst()
	assert.True(t, m.ShouldResetPool(), "signal re-arms after the interval")
}

func TestConcurrentObservations(t *testing.T) {
	m := New()

	var wg sync.WaitGroup
	for i := 0; i < 28; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Success()
				m.Error("IOError")
				m.LiveErrors()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(28*200), m.TotalRequests())
	assert.Equal(t, int64(28*100), m.TotalErrors())
}
