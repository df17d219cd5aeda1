package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClockStopFromAnotherGoroutine(t *testing.T) {
	c := NewClock()
	c.Interval = time.Millisecond

	ticked := make(chan struct{}, 1)
	c.OnTick = func(uint64) {
		select {
		case ticked <- struct{}{}:
		default:
		}
	}

	done := make(chan struct{})
	go func() {
		c.Run(0)
		close(done)
	}()

	<-ticked
	c.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("clock kept running after Stop")
	}
}

func TestSimTime(t *testing.T) {
	assert.Equal(t, "Day 1, 0:00", SimTime(0))
	assert.Equal(t, "Day 1, 1:05", SimTime(65))
	assert.Equal(t, "Day 2, 0:00", SimTime(TicksPerDay))
}
