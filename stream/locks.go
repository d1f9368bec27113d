package stream

import "sync"

// channelLocks serializes event handling per channel. Two events for the same
// channel must not interleave their session open/close logic; events for
// different channels proceed in parallel. Mutexes are created lazily and kept
// for the channel's tracked lifetime (bounded by subscription count).
type channelLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newChannelLocks() *channelLocks {
	return &channelLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the channel's mutex and returns the unlock func.
func (c *channelLocks) acquire(channelID string) func() {
	c.mu.Lock()
	l, ok := c.locks[channelID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[channelID] = l
	}
	c.mu.Unlock()

	l.Lock()
	return l.Unlock
}
