// Package swap holds the thought distribution algorithm. It is pure: callers
// pass the recipients, the submissions, and a random source, and get back an
// assignment per recipient. All room and store concerns stay outside.
package swap

import (
	"errors"
	"math/rand"
	"time"
)

// ErrNoThoughts means there is nothing to distribute.
var ErrNoThoughts = errors.New("swap: no thoughts to distribute")

// maxReshuffles bounds how many times a colliding shuffle is retried before
// falling back to pairwise repair.
const maxReshuffles = 5

// Thought is one assignable submission.
type Thought struct {
	ID       string
	AuthorID string
	Content  string
}

// Assignment pairs one recipient with the thought they received.
type Assignment struct {
	RecipientID string
	Thought     Thought
}

// Distribute hands one thought to every recipient. Nobody receives their own
// thought unless the pool makes that unavoidable. When there are fewer
// thoughts than recipients the pool tiles (some thoughts go to several
// readers); when there are more, the surplus stays undistributed.
//
// rng may be nil, in which case a fresh time-seeded source is used. Passing
// a seeded source makes the result reproducible.
func Distribute(recipients []string, thoughts []Thought, rng *rand.Rand) ([]Assignment, error) {
	if len(thoughts) == 0 {
		return nil, ErrNoThoughts
	}
	if len(recipients) == 0 {
		return nil, nil
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	pool := make([]Thought, len(recipients))
	for i := range pool {
		pool[i] = thoughts[i%len(thoughts)]
	}

	if distinctAuthors(thoughts) == 1 {
		// Every thought shares one author, so reshuffling cannot avoid a
		// self-assignment. Hand the pool out as-is.
		shuffle(pool, rng)
		return assemble(recipients, pool), nil
	}

	for attempt := 0; attempt <= maxReshuffles; attempt++ {
		shuffle(pool, rng)
		if countSelfAssignments(recipients, pool) == 0 {
			return assemble(recipients, pool), nil
		}
	}
	repair(recipients, pool)
	return assemble(recipients, pool), nil
}

func shuffle(pool []Thought, rng *rand.Rand) {
	rng.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})
}

func distinctAuthors(thoughts []Thought) int {
	authors := make(map[string]struct{}, len(thoughts))
	for _, t := range thoughts {
		authors[t.AuthorID] = struct{}{}
	}
	return len(authors)
}

func countSelfAssignments(recipients []string, pool []Thought) int {
	n := 0
	for i, r := range recipients {
		if pool[i].AuthorID == r {
			n++
		}
	}
	return n
}

// repair swaps each self-assignment with the first position that resolves it
// without creating a new one. A position with no valid partner keeps its own
// thought; that only happens when the pool leaves no alternative.
func repair(recipients []string, pool []Thought) {
	for i := range recipients {
		if pool[i].AuthorID != recipients[i] {
			continue
		}
		for j := range pool {
			if i == j {
				continue
			}
			if pool[j].AuthorID != recipients[i] && pool[i].AuthorID != recipients[j] {
				pool[i], pool[j] = pool[j], pool[i]
				break
			}
		}
	}
}

func assemble(recipients []string, pool []Thought) []Assignment {
	assignments := make([]Assignment, len(recipients))
	for i, r := range recipients {
		assignments[i] = Assignment{RecipientID: r, Thought: pool[i]}
	}
	return assignments
}
