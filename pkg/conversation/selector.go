package conversation

import (
	"math/rand/v2"
	"time"
)

// Selector makes the weighted random choices of a session. A fixed seed
// gives a reproducible sequence.
type Selector struct {
	rng *rand.Rand
}

// NewSelector creates a selector. Seed 0 seeds from the clock.
func NewSelector(seed uint64) *Selector {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Selector{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Pick returns an index chosen with probability weight(i)/sum. Non
// positive weights count as 1. It returns -1 when n is zero.
func (s *Selector) Pick(n int, weight func(i int) int) int {
	if n <= 0 {
		return -1
	}
	if n == 1 {
		return 0
	}
	total := 0
	for i := 0; i < n; i++ {
		total += effectiveWeight(weight(i))
	}
	r := s.rng.IntN(total)
	for i := 0; i < n; i++ {
		r -= effectiveWeight(weight(i))
		if r < 0 {
			return i
		}
	}
	return n - 1
}

// PickOption chooses one of the action options by weight.
func (s *Selector) PickOption(opts []TriggerActionOption) (TriggerActionOption, bool) {
	i := s.Pick(len(opts), func(i int) int { return opts[i].Weight })
	if i < 0 {
		return TriggerActionOption{}, false
	}
	return opts[i], true
}

// PickPhrase chooses one phrase uniformly.
func (s *Selector) PickPhrase(phrases []string) string {
	i := s.Pick(len(phrases), func(int) int { return 1 })
	if i < 0 {
		return ""
	}
	return phrases[i]
}

func effectiveWeight(w int) int {
	if w <= 0 {
		return 1
	}
	return w
}
