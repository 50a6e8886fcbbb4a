//go:build property

package watcher

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestDebouncerProperties validates batching over generated event sequences.
func TestDebouncerProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(9876)
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	paths := gen.SliceOf(gen.OneConstOf("a.html", "b.html", "c.css", "d.css", "e.html"))

	flushed := func(in []string) []ChangeEvent {
		d := NewDebouncer(0)
		for i, p := range in {
			d.pending = append(d.pending, ChangeEvent{Path: p, Size: int64(i)})
		}
		d.flush()

		select {
		case events := <-d.Output():
			return events
		default:
			return nil
		}
	}

	properties.Property("one event per path", prop.ForAll(
		func(in []string) bool {
			seen := map[string]bool{}
			for _, e := range flushed(in) {
				if seen[e.Path] {
					return false
				}
				seen[e.Path] = true
			}
			for _, p := range in {
				if !seen[p] {
					return false
				}
			}
			return true
		},
		paths,
	))

	properties.Property("first appearance order, latest event wins", prop.ForAll(
		func(in []string) bool {
			var order []string
			last := map[string]int{}
			for i, p := range in {
				if _, ok := last[p]; !ok {
					order = append(order, p)
				}
				last[p] = i
			}

			out := flushed(in)
			if len(out) != len(order) {
				return false
			}
			for i, e := range out {
				if e.Path != order[i] || e.Size != int64(last[e.Path]) {
					return false
				}
			}
			return true
		},
		paths,
	))

	properties.TestingRun(t)
}
