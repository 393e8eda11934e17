package queue

import "sync/atomic"

// LoadCounter counts the items a worker is responsible for: those resident in
// its queue plus the one currently executing.
type LoadCounter struct {
	n atomic.Int64
}

func (c *LoadCounter) Inc() int64 { return c.n.Add(1) }
func (c *LoadCounter) Dec() int64 { return c.n.Add(-1) }
func (c *LoadCounter) Get() int64 { return c.n.Load() }

// Sub removes n items at once, used when a queue is abandoned.
func (c *LoadCounter) Sub(n int64) int64 { return c.n.Add(-n) }
