// Clock drives the tick loop in real time.
package sim

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Clock runs the orchestrator on a fixed interval until stopped.
type Clock struct {
	Interval time.Duration // base tick interval
	Speed    float64       // multiplier: 1.0 = real-time, 0 = paused

	running atomic.Bool // Stop is called from the signal goroutine

	OnTick func(tick uint64) // every tick
	OnDay  func(tick uint64) // every TicksPerDay ticks
}

// NewClock creates a clock with default settings.
func NewClock() *Clock {
	return &Clock{
		Interval: time.Second,
		Speed:    1.0,
	}
}

// Run blocks until Stop is called.
func (c *Clock) Run(startTick uint64) {
	c.running.Store(true)
	tick := startTick
	slog.Info("tick loop started", "tick", tick, "speed", c.Speed)

	for c.running.Load() {
		if c.Speed <= 0 {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		start := time.Now()
		tick++

		if c.OnTick != nil {
			c.OnTick(tick)
		}
		if tick%TicksPerDay == 0 && c.OnDay != nil {
			c.OnDay(tick)
		}

		elapsed := time.Since(start)
		target := time.Duration(float64(c.Interval) / c.Speed)
		if elapsed < target {
			time.Sleep(target - elapsed)
		}
	}

	slog.Info("tick loop stopped", "tick", tick)
}

// Stop halts the loop after the current tick. Safe to call from
// another goroutine.
func (c *Clock) Stop() {
	c.running.Store(false)
}

// SimTime renders a tick as a human-readable sim timestamp.
func SimTime(tick uint64) string {
	minutes := tick % 60
	totalHours := tick / 60
	hours := totalHours % 24
	days := totalHours/24 + 1
	return fmt.Sprintf("Day %d, %d:%02d", days, hours, minutes)
}

// SimDay returns the sim day number for a tick.
func SimDay(tick uint64) uint64 {
	return tick / TicksPerDay
}
