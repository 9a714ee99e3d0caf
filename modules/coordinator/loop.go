package coordinator

import (
	"fmt"
)

// enqueue appends ev to the mailbox. If no goroutine is draining, the caller
// becomes the drainer and runs events until the mailbox is empty; otherwise
// ev runs after the events already queued. This is what makes calls from
// listeners and inline factory completions safe: they are queued, never
// re-entered.
//
// After Close, only events marked always (handle completions) are accepted.
func (c *Coordinator) enqueue(ev func(), always bool) bool {
	c.qmu.Lock()
	if c.closed && !always {
		c.qmu.Unlock()
		return false
	}
	c.queue = append(c.queue, ev)
	if c.draining {
		c.qmu.Unlock()
		return true
	}
	c.draining = true
	c.qmu.Unlock()

	c.drain()
	return true
}

func (c *Coordinator) isClosed() bool {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	return c.closed
}

func (c *Coordinator) drain() {
	for {
		c.qmu.Lock()
		if len(c.queue) == 0 {
			c.draining = false
			c.qmu.Unlock()
			return
		}
		ev := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		c.qmu.Unlock()

		c.run(ev)
	}
}

// run executes one event; a panic is logged and counted so the loop survives.
func (c *Coordinator) run(ev func()) {
	defer func() {
		if r := recover(); r != nil {
			c.eventFaults.Add(1)
			c.logger.Error("coordinator event panicked", "panic", fmt.Sprint(r))
		}
	}()

	ev()
	c.events.Add(1)
}
