package engine

import "time"

// FPSCounter reports the number of frames rendered during the last complete
// wall-clock second.
type FPSCounter struct {
	windowStart time.Time
	frames      int
	fps         int
}

// Tick counts a frame rendered at now and returns the current rate.
func (c *FPSCounter) Tick(now time.Time) int {
	if c.windowStart.IsZero() {
		c.windowStart = now
	}
	if now.Sub(c.windowStart) >= time.Second {
		c.fps = c.frames
		c.frames = 0
		c.windowStart = now
	}
	c.frames++
	return c.fps
}

// FPS returns the last completed count.
func (c *FPSCounter) FPS() int {
	return c.fps
}
