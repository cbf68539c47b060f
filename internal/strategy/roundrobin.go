package strategy

import (
	"sync/atomic"
)

type roundRobinStrategy struct {
	current uint64
}

func (rb *roundRobinStrategy) Select(candidates []Candidate) int {
	if len(candidates) == 0 {
		return -1
	}

	n := atomic.AddUint64(&rb.current, 1)

	return int((n - 1) % uint64(len(candidates)))
}

func NewRoundRobinStrategy() Strategy {
	return &roundRobinStrategy{
		current: 0,
	}
}
