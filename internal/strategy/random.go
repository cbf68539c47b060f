package strategy

import (
	"math/rand/v2"
)

type randomStrategy struct{}

func (r *randomStrategy) Select(candidates []Candidate) int {
	if len(candidates) == 0 {
		return -1
	}

	return rand.IntN(len(candidates))
}

func NewRandomStrategy() Strategy {
	return &randomStrategy{}
}
