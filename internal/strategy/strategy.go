package strategy

import "fmt"

const (
	NamePowerOfTwo = "p2c"
	NameRoundRobin = "round-robin"
	NameRandom     = "random"
	NameLeastConn  = "least-conn"
)

// Names lists every strategy ByName understands.
var Names = []string{NamePowerOfTwo, NameRoundRobin, NameRandom, NameLeastConn}

// Candidate is one selectable endpoint, seen only through its current load.
type Candidate interface {
	Load() int64
}

// Strategy picks the index of the candidate that should take the next
// request. It returns -1 only when candidates is empty.
type Strategy interface {
	Select(candidates []Candidate) int
}

// ByName returns a fresh strategy for name.
func ByName(name string) (Strategy, error) {
	switch name {
	case NamePowerOfTwo, "":
		return NewPowerOfTwo(), nil
	case NameRoundRobin:
		return NewRoundRobinStrategy(), nil
	case NameRandom:
		return NewRandomStrategy(), nil
	case NameLeastConn:
		return NewLeastConnStrategy(), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}
