// Package segment turns the recognizer's superseding partial results into
// one growing transcript with time-anchored character ranges.
package segment

import (
	"fmt"
	"sync/atomic"
)

// Generator issues utterance IDs for one stream.
type Generator struct {
	counter uint64
}

func New() *Generator {
	return &Generator{}
}

func (g *Generator) Next(stream string) string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-utt-%d", stream, n)
}
