package strategy

import (
	"math"
)

type leastConnStrategy struct {
}

// Select scans every candidate; ties go to the lowest index.
func (l *leastConnStrategy) Select(candidates []Candidate) int {
	if len(candidates) == 0 {
		return -1
	}

	best := -1
	bestLoad := int64(math.MaxInt64)

	for i, c := range candidates {
		load := c.Load()
		if load < bestLoad {
			bestLoad = load
			best = i
		}
	}

	return best
}

func NewLeastConnStrategy() Strategy {
	return &leastConnStrategy{}
}
