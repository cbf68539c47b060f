package strategy

import (
	"math/rand/v2"
)

// NewPowerOfTwo returns the power-of-two-choices strategy: draw two distinct
// candidates uniformly at random and keep the one with fewer requests in
// flight. It gets most of the benefit of a least-loaded scan at constant cost.
func NewPowerOfTwo() Strategy {
	return &powerOfTwo{intn: rand.IntN}
}

// NewPowerOfTwoWithSource is NewPowerOfTwo with a caller-supplied random
// source. intn must return a value in [0, n) and be safe for concurrent use
// if the strategy is. A source that always returns 0 makes every tie go to
// the first candidate.
func NewPowerOfTwoWithSource(intn func(n int) int) Strategy {
	return &powerOfTwo{intn: intn}
}

type powerOfTwo struct {
	intn func(n int) int
}

func (p *powerOfTwo) Select(candidates []Candidate) int {
	switch len(candidates) {
	case 0:
		return -1
	case 1:
		return 0
	case 2:
		a, b := candidates[0].Load(), candidates[1].Load()
		switch {
		case a < b:
			return 0
		case b < a:
			return 1
		}
		// equal loads: the source decides, so a fixed source fixes the winner
		return p.intn(2)
	}

	n := len(candidates)
	first := p.intn(n)
	// drawing from n-1 and skipping first keeps both picks uniform and distinct
	second := p.intn(n - 1)
	if second >= first {
		second++
	}

	if candidates[second].Load() < candidates[first].Load() {
		return second
	}
	return first
}
