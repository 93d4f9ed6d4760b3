package vm

import "github.com/probechain/vellum/internal/value"

// Upvalue is a variable captured by an inner closure from an enclosing
// scope, modeled as the two-state cell described in spec.md §3/§9: open
// (still referring to a live frame register) or closed (owns its value).
// The transition is one-way.
type Upvalue struct {
	frame  *Frame
	index  int
	closed bool
	value  value.Value
}

// newOpenUpvalue creates a cell referring to frame.Stack[index].
func newOpenUpvalue(frame *Frame, index int) *Upvalue {
	return &Upvalue{frame: frame, index: index}
}

// newClosedUpvalue creates a cell that already owns v (used by NEWCLOSURE's
// value-capture pseudo-instruction mode 0, which snapshots a register
// rather than sharing it).
func newClosedUpvalue(v value.Value) *Upvalue {
	return &Upvalue{closed: true, value: v}
}

// Get returns the cell's current value.
func (u *Upvalue) Get() value.Value {
	if u.closed {
		return u.value
	}
	return u.frame.Stack[u.index]
}

// Set stores v into the cell.
func (u *Upvalue) Set(v value.Value) {
	if u.closed {
		u.value = v
		return
	}
	u.frame.Stack[u.index] = v
}

// Close transitions an open cell to closed, snapshotting the frame
// register's current value. Closing an already-closed cell is a no-op.
func (u *Upvalue) Close() {
	if u.closed {
		return
	}
	u.value = u.frame.Stack[u.index]
	u.closed = true
	u.frame = nil
}

// IsOpen reports whether the cell still references a live frame register.
func (u *Upvalue) IsOpen() bool {
	return !u.closed
}

// Index returns the register index an open cell refers to; meaningless
// once closed.
func (u *Upvalue) Index() int {
	return u.index
}
