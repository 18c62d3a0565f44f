// Package assign picks one table out of the free candidates for a booking.
package assign

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"fusse/internal/availability"
)

// Policy chooses a table. candidates is never empty; implementations panic if it is.
type Policy interface {
	Choose(candidates []availability.Candidate) availability.Candidate
}

const (
	NameRandom           = "random"
	NameSmallestFirst    = "smallest_first"
	NameMostRecentlyIdle = "most_recently_idle"
	NameFirst            = "first"
)

func mustHave(candidates []availability.Candidate) {
	if len(candidates) == 0 {
		panic("assign: no candidates")
	}
}

// Random picks uniformly. Safe for concurrent use.
type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandom uses rng, or a time-seeded source when rng is nil.
func NewRandom(rng *rand.Rand) *Random {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Random{rng: rng}
}

func (p *Random) Choose(candidates []availability.Candidate) availability.Candidate {
	mustHave(candidates)
	p.mu.Lock()
	i := p.rng.Intn(len(candidates))
	p.mu.Unlock()
	return candidates[i]
}

// SmallestFirst keeps large tables free for large parties: least capacity wins,
// ties go to the lowest table number.
type SmallestFirst struct{}

func (SmallestFirst) Choose(candidates []availability.Candidate) availability.Candidate {
	mustHave(candidates)
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Table.Capacity < best.Table.Capacity ||
			(c.Table.Capacity == best.Table.Capacity && c.Table.Number < best.Table.Number) {
			best = c
		}
	}
	return best
}

// MostRecentlyIdle picks the table whose last reservation ended latest, so
// turnovers cluster on tables that are already set. Never-used tables come last.
type MostRecentlyIdle struct{}

func (MostRecentlyIdle) Choose(candidates []availability.Candidate) availability.Candidate {
	mustHave(candidates)
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.IdleSince.After(best.IdleSince) ||
			(c.IdleSince.Equal(best.IdleSince) && c.Table.Number < best.Table.Number) {
			best = c
		}
	}
	return best
}

// First returns the first candidate.
type First struct{}

func (First) Choose(candidates []availability.Candidate) availability.Candidate {
	mustHave(candidates)
	return candidates[0]
}

// ByName resolves a configured policy name. rng is only used by the random policy.
func ByName(name string, rng *rand.Rand) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameRandom:
		return NewRandom(rng), nil
	case NameSmallestFirst:
		return SmallestFirst{}, nil
	case NameMostRecentlyIdle:
		return MostRecentlyIdle{}, nil
	case NameFirst:
		return First{}, nil
	default:
		return nil, fmt.Errorf("unknown assignment policy %q", name)
	}
}
