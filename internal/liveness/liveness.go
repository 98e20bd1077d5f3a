// Package liveness answers whether the terminal device backing a session
// still exists. Checks are cached per tty with a fixed TTL so bursty registry
// reads do not hammer the filesystem.
package liveness

import (
	"os"
	"sync"
	"time"
)

type cacheEntry struct {
	alive     bool
	checkedAt time.Time
}

type Checker struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry

	// stat is swappable for tests.
	stat func(string) (os.FileInfo, error)
}

func NewChecker(ttl time.Duration) *Checker {
	return &Checker{
		ttl:   ttl,
		now:   time.Now,
		cache: make(map[string]cacheEntry),
		stat:  os.Stat,
	}
}

// IsAlive reports whether tty still resolves to an existing device node.
// An empty tty means the session has no tracked terminal and is always
// considered alive. Any stat error is treated as dead: a denied or failing
// device lookup best correlates with a closed terminal.
func (c *Checker) IsAlive(tty string) bool {
	if tty == "" {
		return true
	}

	now := c.now()
	c.mu.Lock()
	entry, ok := c.cache[tty]
	c.mu.Unlock()
	if ok && now.Sub(entry.checkedAt) < c.ttl {
		return entry.alive
	}

	_, err := c.stat(tty)
	alive := err == nil

	c.mu.Lock()
	c.cache[tty] = cacheEntry{alive: alive, checkedAt: now}
	c.mu.Unlock()
	return alive
}
