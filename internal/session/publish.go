package session

import "github.com/vovakirdan/wirechat-sync/internal/core"

// updateState recomputes the snapshot and hands it to every subscriber.
// Subscribers that lag behind only ever see the newest snapshot.
func (c *Controller) updateState() {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	snap := c.build()
	c.current = snap
	for _, sub := range c.subs {
		select {
		case <-sub:
		default:
		}
		sub <- snap
	}
}

func (c *Controller) build() core.Snapshot {
	c.mu.Lock()
	b := c.cur
	status := c.status
	lastErr := c.lastErr
	failed := append([]core.FailedSend{}, c.failed...)
	c.mu.Unlock()

	snap := core.EmptySnapshot()
	snap.Status = status
	snap.LastError = lastErr
	if b == nil {
		return snap
	}
	c.store.Fill(&snap)
	snap.Notifications = b.feed.Pending()
	snap.FailedSends = failed
	return snap
}

// Snapshot returns the most recently published snapshot.
func (c *Controller) Snapshot() core.Snapshot {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	return c.current
}

// Subscribe returns a channel that always holds the newest snapshot,
// starting with the current one, and a func that ends the subscription.
func (c *Controller) Subscribe() (<-chan core.Snapshot, func()) {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	id := c.nextSub
	c.nextSub++
	sub := make(chan core.Snapshot, 1)
	sub <- c.current
	c.subs[id] = sub

	return sub, func() {
		c.pubMu.Lock()
		defer c.pubMu.Unlock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
}
