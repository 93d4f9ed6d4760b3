package vm

import (
	"github.com/probechain/vellum/internal/bytecode"
	"github.com/probechain/vellum/internal/value"
)

// Frame is the per-invocation state described in spec.md §3: registers,
// varargs, PC, the multi-return high-water mark, and the two registries
// (open upvalues, live generic-for iterator coroutines), held in ordinary
// (non-weak) maps.
type Frame struct {
	Stack   []value.Value
	Varargs []value.Value

	PC  int
	Top int // high-water register index; meaningful only after a B=0/C=0 multi-return op

	OpenUpvalues map[int]*Upvalue // register index -> open cell
	Iterators    map[int]*iterator // FORGLOOP instruction pc -> live coroutine

	Proto  *bytecode.Prototype
	Module *bytecode.Module

	DebugName  string
	LastOpcode bytecode.Opcode
}

func newFrame(proto *bytecode.Prototype, module *bytecode.Module) *Frame {
	stack := make([]value.Value, proto.MaxStackSize)
	for i := range stack {
		stack[i] = value.NilValue
	}
	return &Frame{
		Stack:        stack,
		Top:          -1,
		OpenUpvalues: make(map[int]*Upvalue),
		Iterators:    make(map[int]*iterator),
		Proto:        proto,
		Module:       module,
		DebugName:    proto.DebugName,
	}
}

// openUpvalue returns the existing open cell at register index, creating
// one if none exists yet. Multiple closures created in the same frame that
// reference-capture the same register share this cell (spec.md §3).
func (f *Frame) openUpvalue(index int) *Upvalue {
	if u, ok := f.OpenUpvalues[index]; ok {
		return u
	}
	u := newOpenUpvalue(f, index)
	f.OpenUpvalues[index] = u
	return u
}

// closeUpvaluesFrom closes every open cell with register index >= from,
// implementing CLOSEUPVALS and the frame-exit cleanup of spec.md §4.6's
// Termination rule.
func (f *Frame) closeUpvaluesFrom(from int) {
	for idx, u := range f.OpenUpvalues {
		if idx >= from {
			u.Close()
			delete(f.OpenUpvalues, idx)
		}
	}
}

// closeAllUpvalues closes every remaining open cell, called on frame exit.
func (f *Frame) closeAllUpvalues() {
	for idx, u := range f.OpenUpvalues {
		u.Close()
		delete(f.OpenUpvalues, idx)
	}
}

// closeAllIterators closes every live generic-for coroutine, called on
// frame exit per spec.md §4.6's Termination rule.
func (f *Frame) closeAllIterators() {
	for pc, it := range f.Iterators {
		it.close()
		delete(f.Iterators, pc)
	}
}

// ensureTop grows Top to at least idx, matching the dispatch loop's
// high-water bookkeeping for multi-return splicing.
func (f *Frame) ensureTop(idx int) {
	if idx > f.Top {
		f.Top = idx
	}
}
