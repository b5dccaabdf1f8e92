/*
Package traffic implements the selection of the page variant served to a
client.

There are always two variants. When the client already carries a valid
variant assignment, the selection sticks to it. Otherwise, one of the two
variants is chosen with an even chance, and the selection is reported as
new, so that the caller can persist it, e.g. in a response cookie.

The stickiness doesn't depend on the current variant manifest: an existing
assignment is honored even if the manifest changed since the assignment
was made.
*/
package traffic

import "math/rand/v2"

// Count is the number of variants to select from.
const Count = 2

// Selection is the result of a variant selection.
type Selection struct {

	// Index of the selected variant, 0 or 1.
	Index int

	// New is true when the index was drawn for this request and needs
	// to be persisted.
	New bool
}

// Selector chooses the variant for a request. It is safe for concurrent
// use.
type Selector struct {
	randFloat64 func() float64
}

// New creates a selector using the default random source.
func New() *Selector {
	return NewWithRand(rand.Float64)
}

// NewWithRand creates a selector drawing from the provided source of
// random numbers in [0, 1). The source needs to be safe for concurrent
// use.
func NewWithRand(randFloat64 func() float64) *Selector {
	return &Selector{randFloat64: randFloat64}
}

func valid(index int) bool {
	return index >= 0 && index < Count
}

func (s *Selector) takeChance() int {
	if s.randFloat64() < .5 {
		return 0
	}

	return 1
}

// Select returns the selection for a decoded variant index. When ok is
// false, or the index is out of range, a random variant is selected.
func (s *Selector) Select(index int, ok bool) Selection {
	if ok && valid(index) {
		return Selection{Index: index}
	}

	return Selection{Index: s.takeChance(), New: true}
}
