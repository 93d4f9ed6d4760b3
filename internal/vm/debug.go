package vm

import (
	"github.com/davecgh/go-spew/spew"

	"github.com/probechain/vellum/internal/value"
)

// DumpFrame renders a frame's register stack, PC, and open-cell/iterator
// bookkeeping for diagnostic use — the host's panic hook or a CLI
// front-end can call this when formatting a failure, in place of the
// teacher's hand-rolled introspection printer.
func DumpFrame(f *Frame) string {
	return spew.Sdump(struct {
		PC         int
		Top        int
		DebugName  string
		LastOpcode string
		Stack      []interface{}
		OpenCells  int
		Iterators  int
	}{
		PC:         f.PC,
		Top:        f.Top,
		DebugName:  f.DebugName,
		LastOpcode: f.LastOpcode.String(),
		Stack:      dumpStack(f.Stack),
		OpenCells:  len(f.OpenUpvalues),
		Iterators:  len(f.Iterators),
	})
}

func dumpStack(stack []value.Value) []interface{} {
	out := make([]interface{}, len(stack))
	for i, v := range stack {
		out[i] = v.String()
	}
	return out
}
