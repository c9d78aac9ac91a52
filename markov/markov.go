// Package markov simulates a lossy link with a two-state Markov chain
// (Gilbert-Elliott): P is the probability of dropping a packet after one was
// delivered, Q the probability of dropping one after a drop. P=Q=0 is a
// perfect link.
package markov

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

type Chain struct {
	P float64
	Q float64

	mu          sync.Mutex
	rnd         *rand.Rand
	lastDropped bool
	dropped     uint64
}

func NewChain(p, q float64) (*Chain, error) {
	return NewChainWithSource(p, q, rand.NewSource(time.Now().UnixNano()))
}

// NewChainWithSource is NewChain with a caller supplied random source, so
// tests can replay a fixed loss pattern.
func NewChainWithSource(p, q float64, src rand.Source) (*Chain, error) {
	if p > 1 || p < 0 || q > 1 || q < 0 {
		return nil, fmt.Errorf("p and/or q values for the markov chain are invalid")
	}
	return &Chain{P: p, Q: q, rnd: rand.New(src)}, nil
}

// Drop advances the chain by one packet and reports whether it is lost.
func (c *Chain) Drop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	prob := c.P
	if c.lastDropped {
		prob = c.Q
	}
	// avoid consuming randomness on a perfect link
	if prob <= 0 {
		c.lastDropped = false
		return false
	}
	c.lastDropped = c.rnd.Float64() < prob
	if c.lastDropped {
		c.dropped++
	}
	return c.lastDropped
}

// Dropped returns how many packets the chain has discarded so far.
func (c *Chain) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
