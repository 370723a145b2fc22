// Package names generates human-readable document identifiers.
//
// Identifiers combine an adjective-noun word pair with a short random
// suffix (e.g. "amber-harbor-3f9c1d"). The word pair keeps ids readable
// in logs and URLs; the suffix makes collisions negligible. Uniqueness is
// ultimately enforced by the record store's unique key, not by this
// package.
package names

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Generator produces document identifiers.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator creates a Generator seeded from a random UUID.
func NewGenerator() *Generator {
	seed := int64(uuid.New().ID())
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// NewGeneratorWithSource creates a Generator with the given random source.
// Used in tests for deterministic output.
func NewGeneratorWithSource(rng *rand.Rand) *Generator {
	return &Generator{rng: rng}
}

// DocumentID generates a new identifier like "amber-harbor-3f9c1d".
func (g *Generator) DocumentID() string {
	g.mu.Lock()
	adj := documentAdjectives[g.rng.Intn(len(documentAdjectives))]
	noun := documentNouns[g.rng.Intn(len(documentNouns))]
	g.mu.Unlock()

	// Six hex characters of UUID entropy on top of the word pair.
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:6]
	return fmt.Sprintf("%s-%s-%s", adj, noun, suffix)
}
