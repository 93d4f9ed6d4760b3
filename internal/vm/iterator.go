package vm

import (
	"errors"

	"github.com/PuerkitoBio/gocoro"

	"github.com/probechain/vellum/internal/value"
)

// terminator is the sentinel an iterator coroutine returns as its final
// value to signal end-of-stream, per spec.md §3/GLOSSARY
// "Generalized-iteration terminator (-2)".
var terminator = value.NilValue

// ErrNotIterable is returned when FORGPREP is asked to install a
// generic-for coroutine over a value with no recognized iteration
// protocol.
var ErrNotIterable = errors.New("vm: value is not iterable")

// iterator wraps a gocoro coroutine driving generalized iteration over a
// non-function value, per spec.md §4.6 FORGPREP/FORGLOOP and §5's
// "host-owned cooperative coroutine per active generic-for loop". This is
// the same shape as developgo-agora/runtime/funcvm.go's rangeStack: a
// coroutine is started once per loop and resumed once per FORGLOOP
// execution, yielding a tuple of bound values each time.
type iterator struct {
	coro gocoro.Coro
	done bool
}

// newTableIterator builds a coroutine that walks tbl's entries in
// insertion order, yielding (key, value) pairs and terminating when
// exhausted — the generalized-iteration protocol for plain tables.
func newTableIterator(tbl *value.Table) *iterator {
	type pair struct{ k, v value.Value }
	var pairs []pair
	tbl.EachInOrder(func(k, v value.Value) {
		pairs = append(pairs, pair{k, v})
	})

	coro := gocoro.New(func(c gocoro.Caller, _ ...interface{}) interface{} {
		for _, p := range pairs {
			c.Yield([]value.Value{p.k, p.v})
		}
		return terminator
	}, 0)

	return &iterator{coro: coro}
}

// resume drives the coroutine one step, returning the bound-value tuple
// for this iteration, or (nil, true) when the iterator has terminated.
func (it *iterator) resume() (bound []value.Value, ended bool, err error) {
	if it.done {
		return nil, true, nil
	}
	v, resumeErr := it.coro.Resume()
	if resumeErr == gocoro.ErrEndOfCoro || (resumeErr == nil && v == terminator) {
		it.done = true
		return nil, true, nil
	}
	if resumeErr != nil {
		it.done = true
		return nil, false, resumeErr
	}
	vals, _ := v.([]value.Value)
	return vals, false, nil
}

// close releases the coroutine. Safe to call more than once.
func (it *iterator) close() {
	it.done = true
}
