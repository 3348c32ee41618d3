// internal/proxy/rotation.go
package proxy

import (
	"math/rand"
	"time"
)

// candidate is an eligible point with the health snapshot taken during filtering.
type candidate struct {
	point  EgressPoint
	health HealthRecord
}

// rotator applies a Strategy to an ordered candidate set. Callers hold the
// pool selection lock.
type rotator struct {
	cursor uint64
	rng    *rand.Rand
}

func newRotator() *rotator {
	return &rotator{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (r *rotator) pick(strategy Strategy, candidates []candidate) candidate {
	switch strategy {
	case StrategyRandom:
		return candidates[r.rng.Intn(len(candidates))]
	case StrategyLeastUsed:
		return leastUsed(candidates)
	case StrategyFastest:
		return fastest(candidates)
	default:
		c := candidates[r.cursor%uint64(len(candidates))]
		r.cursor++
		return c
	}
}

func (r *rotator) reset() {
	r.cursor = 0
}

// leastUsed picks the minimum TotalRequests; ties go to the earliest
// registered point. In-flight connections do not count.
func leastUsed(candidates []candidate) candidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.health.TotalRequests < best.health.TotalRequests {
			best = c
		}
	}
	return best
}

// fastest picks the lowest EWMA latency. Unmeasured points have EWMA 0 and
// therefore win until they are measured.
func fastest(candidates []candidate) candidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.health.ResponseTimeEWMA < best.health.ResponseTimeEWMA {
			best = c
		}
	}
	return best
}
