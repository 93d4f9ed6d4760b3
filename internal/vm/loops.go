package vm

import (
	"strconv"

	"github.com/probechain/vellum/internal/bytecode"
	"github.com/probechain/vellum/internal/value"
)

// toNumber applies the "coerce via tonumber" rule FORNPREP needs for its
// three control registers, per spec.md §4.6.
func toNumber(v value.Value) (value.Number, bool) {
	switch t := v.(type) {
	case value.Number:
		return t, true
	case value.String:
		f, err := strconv.ParseFloat(string(t), 64)
		if err != nil {
			return 0, false
		}
		return value.Number(f), true
	default:
		return 0, false
	}
}

// forNPrep coerces the limit/step/index registers and reports whether the
// loop body should be skipped because the range is initially empty.
func forNPrep(frame *Frame, a int) (skip bool, err error) {
	limit, ok := toNumber(frame.Stack[a])
	if !ok {
		return false, newTypeError("invalid 'for' limit (number expected, got %s)", frame.Stack[a].Kind())
	}
	step, ok := toNumber(frame.Stack[a+1])
	if !ok {
		return false, newTypeError("invalid 'for' step (number expected, got %s)", frame.Stack[a+1].Kind())
	}
	index, ok := toNumber(frame.Stack[a+2])
	if !ok {
		return false, newTypeError("invalid 'for' initial value (number expected, got %s)", frame.Stack[a+2].Kind())
	}
	frame.Stack[a] = limit
	frame.Stack[a+1] = step
	frame.Stack[a+2] = index

	if step > 0 {
		return index > limit, nil
	}
	if step < 0 {
		return index < limit, nil
	}
	return limit < index, nil // zero step: skipped only when index > limit, as for a positive step
}

// forNLoop advances the index by step, writes it back, and reports
// whether the loop continues, per spec.md §4.6/§8 property 4.
func forNLoop(frame *Frame, a int) bool {
	limit := frame.Stack[a].(value.Number)
	step := frame.Stack[a+1].(value.Number)
	index := frame.Stack[a+2].(value.Number) + step
	frame.Stack[a+2] = index
	if step > 0 {
		return index <= limit
	}
	return index >= limit
}

// forGPrep installs a generalized-iteration coroutine when the iterator in
// register a is not a function, keyed by the FORGLOOP instruction it
// targets (targetPC). Plain function iterators need no setup here; the
// FORGLOOP handler calls them directly.
func (m *VM) forGPrep(frame *Frame, a int, targetPC int) error {
	iterV := frame.Stack[a]
	if _, ok := iterV.(value.Callable); ok {
		return nil
	}
	if !m.Settings.GeneralizedIteration {
		return newTypeError("attempt to iterate a %s value", iterV.Kind())
	}
	tbl, ok := iterV.(*value.Table)
	if !ok {
		return newTypeError("attempt to iterate a %s value", iterV.Kind())
	}
	frame.Iterators[targetPC] = newTableIterator(tbl)
	return nil
}

// forGLoop implements FORGLOOP: K (from KMode 8, per spec.md §9's
// preserve-verbatim note) is the number of loop variables to bind.
func (m *VM) forGLoop(frame *Frame, inst *bytecode.Instruction) (bool, error) {
	a := int(inst.A)
	k := int(inst.KC)
	frame.ensureTop(a + 6)

	if it, ok := frame.Iterators[frame.PC]; ok {
		vals, ended, err := it.resume()
		if err != nil {
			return false, err
		}
		if ended {
			delete(frame.Iterators, frame.PC)
			return false, nil
		}
		bindLoopVars(frame, a+3, k, vals)
		return true, nil
	}

	callee, ok := frame.Stack[a].(value.Callable)
	if !ok {
		return false, newTypeError("for-in iterator is not a function")
	}
	results, err := callee.Call([]value.Value{frame.Stack[a+1], frame.Stack[a+2]})
	if err != nil {
		return false, err
	}
	bindLoopVars(frame, a+3, k, results)

	if value.IsNil(frame.Stack[a+3]) {
		return false, nil
	}
	frame.Stack[a+2] = frame.Stack[a+3]
	return true, nil
}

func bindLoopVars(frame *Frame, base, k int, vals []value.Value) {
	for i := 0; i < k; i++ {
		if i < len(vals) {
			frame.Stack[base+i] = vals[i]
		} else {
			frame.Stack[base+i] = value.NilValue
		}
	}
}
