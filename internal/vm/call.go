package vm

import (
	"github.com/probechain/vellum/internal/bytecode"
	"github.com/probechain/vellum/internal/value"
)

// returnCount implements the shared "B=0 means use top" convention used by
// CALL's argument count, RETURN's result count, and SETLIST's copy count,
// per spec.md §3/§4.6. base is the register the count is measured from
// (A+1 for CALL, A for RETURN, B for SETLIST).
func returnCount(countField int32, top int, base int) int {
	switch countField {
	case 0:
		n := top - base + 1
		if n < 0 {
			return 0
		}
		return n
	case 1:
		return 0
	default:
		return int(countField) - 1
	}
}

// execCall performs CALL(A,B,C): gather arguments, resolve a pending
// NAMECALL against the native namecall handler when configured, otherwise
// invoke stack[A] as a Callable. It returns the raw results and the
// resolved result count handling (n_ret) BEFORE C-based truncation, which
// spliceCallResults applies.
func (m *VM) execCall(c *Closure, frame *Frame, inst *bytecode.Instruction, pending *namecallState) ([]value.Value, int, error) {
	if m.Settings.Hooks.Interrupt != nil {
		m.Settings.Hooks.Interrupt(m.debugFor(frame))
	}

	a := int(inst.A)
	nParams := returnCount(inst.B, frame.Top, a+1)
	args := make([]value.Value, nParams)
	copy(args, frame.Stack[a+1:a+1+nParams])

	if pending != nil && m.Settings.UseNativeNamecall && m.Settings.NamecallHandler != nil {
		handled, results, err := m.Settings.NamecallHandler(pending.receiver, pending.method, args)
		if err != nil {
			return nil, 0, err
		}
		if handled {
			return results, len(results), nil
		}
	}

	if pending != nil {
		v, err := tableGet(pending.receiver, value.String(pending.method))
		if err != nil {
			return nil, 0, err
		}
		frame.Stack[a] = v
	}

	callee, ok := frame.Stack[a].(value.Callable)
	if !ok {
		return nil, 0, newTypeError("attempt to call a %s value", frame.Stack[a].Kind())
	}
	results, err := callee.Call(args)
	if err != nil {
		return nil, 0, err
	}
	return results, len(results), nil
}

// spliceCallResults writes a CALL's results back starting at A, per the
// B/C multi-return contract: C==0 propagates n_ret and sets Top; otherwise
// results are truncated/padded to C-1 values.
func spliceCallResults(frame *Frame, a int, c int, results []value.Value, nRet int) {
	if c == 0 {
		for i := 0; i < nRet; i++ {
			if i < len(results) {
				frame.Stack[a+i] = results[i]
			} else {
				frame.Stack[a+i] = value.NilValue
			}
		}
		frame.Top = a + nRet - 1
		return
	}
	n := c - 1
	for i := 0; i < n; i++ {
		if i < len(results) {
			frame.Stack[a+i] = results[i]
		} else {
			frame.Stack[a+i] = value.NilValue
		}
	}
}

// makeClosure implements NEWCLOSURE's capture protocol: protoIdx indexes
// into the current prototype's Protos list. It returns the number of
// pseudo-instructions consumed, which the caller adds to the PC step.
func (m *VM) makeClosure(c *Closure, frame *Frame, a int32, protoIdx int, _ bool) int {
	childIdx := frame.Proto.Protos[protoIdx]
	child := frame.Module.Prototypes[childIdx]
	upvals := make([]*Upvalue, child.NumUpvalues)

	code := frame.Proto.Code
	base := frame.PC + 1
	for i := 0; i < child.NumUpvalues; i++ {
		pseudo := code[base+i]
		switch pseudo.A {
		case 0:
			upvals[i] = newClosedUpvalue(frame.Stack[pseudo.B])
		case 1:
			upvals[i] = frame.openUpvalue(int(pseudo.B))
		case 2:
			upvals[i] = c.Upvalues[pseudo.B]
		}
	}

	frame.Stack[a] = m.NewClosure(child, frame.Module, upvals)
	return child.NumUpvalues
}

// makeDupClosure is NEWCLOSURE's sibling: the prototype comes from a
// Closure-kind constant, and only capture modes 0 and 2 are valid.
func (m *VM) makeDupClosure(c *Closure, frame *Frame, inst *bytecode.Instruction) int {
	child := frame.Module.Prototypes[inst.K.ProtoIdx]
	upvals := make([]*Upvalue, child.NumUpvalues)

	code := frame.Proto.Code
	base := frame.PC + 1
	for i := 0; i < child.NumUpvalues; i++ {
		pseudo := code[base+i]
		switch pseudo.A {
		case 0:
			upvals[i] = newClosedUpvalue(frame.Stack[pseudo.B])
		case 2:
			upvals[i] = c.Upvalues[pseudo.B]
		}
	}

	frame.Stack[inst.A] = m.NewClosure(child, frame.Module, upvals)
	return child.NumUpvalues
}
