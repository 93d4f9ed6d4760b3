package vm

import (
	"github.com/probechain/vellum/internal/bytecode"
	"github.com/probechain/vellum/internal/host"
	"github.com/probechain/vellum/internal/value"
)

// namecallState records a pending NAMECALL, resolved when the following
// CALL instruction executes, per spec.md §4.6's NAMECALL contract.
type namecallState struct {
	receiver value.Value
	method   string
}

// run is the dispatch loop (C6): the core interpreter for one frame. pc is
// a 0-based index into frame.Proto.Code; AUX placeholder slots are
// skipped over by adding 2 instead of 1 wherever an instruction has_aux.
func (m *VM) run(c *Closure, frame *Frame) ([]value.Value, error) {
	code := frame.Proto.Code
	var pendingNamecall *namecallState

	for {
		if !m.alive {
			frame.closeAllUpvalues()
			frame.closeAllIterators()
			return nil, nil
		}
		if frame.PC >= len(code) {
			return nil, newRuntimeError("pc ran off the end of code in %s", frame.DebugName)
		}

		inst := &code[frame.PC]
		frame.LastOpcode = inst.Op

		if m.Settings.Hooks.Step != nil {
			m.Settings.Hooks.Step(frame.Stack, m.debugFor(frame))
		}

		step := 1
		if inst.Op.HasAux() {
			step = 2
		}

		switch inst.Op {
		case bytecode.OpNop, bytecode.OpCoverage, bytecode.OpCapture,
			bytecode.OpPrepVarargs, bytecode.OpFastCall, bytecode.OpFastCall1,
			bytecode.OpFastCall2, bytecode.OpFastCall2K, bytecode.OpFastCall3:
			// Observational/no-op opcodes, per spec.md §4.6 "Unimplemented/
			// skipped in this core": the general call path already handles
			// what FASTCALL* would fast-path, and CAPTURE/PREPVARARGS are
			// pseudo/subsumed.
			frame.PC += step

		case bytecode.OpBreak:
			if m.Settings.Hooks.Break != nil {
				m.Settings.Hooks.Break(m.debugFor(frame))
			}
			frame.PC += step

		case bytecode.OpLoadNil:
			frame.Stack[inst.A] = value.NilValue
			frame.PC += step

		case bytecode.OpLoadB:
			frame.Stack[inst.A] = value.BoolValue(inst.B != 0)
			frame.PC += step + int(inst.C)

		case bytecode.OpLoadN:
			frame.Stack[inst.A] = value.Number(inst.D)
			frame.PC += step

		case bytecode.OpLoadK, bytecode.OpLoadKX:
			frame.Stack[inst.A] = constantValue(inst.K, frame.Module)
			frame.PC += step

		case bytecode.OpMove:
			frame.Stack[inst.A] = frame.Stack[inst.B]
			frame.PC += step

		case bytecode.OpGetGlobal:
			name := frame.Module.String(inst.K.StrIdx)
			frame.Stack[inst.A] = m.Settings.Lookup(name, m.Env)
			frame.PC += step

		case bytecode.OpSetGlobal:
			name := frame.Module.String(inst.K.StrIdx)
			m.setGlobal(name, frame.Stack[inst.A])
			frame.PC += step

		case bytecode.OpGetUpval:
			frame.Stack[inst.A] = c.Upvalues[inst.B].Get()
			frame.PC += step

		case bytecode.OpSetUpval:
			c.Upvalues[inst.B].Set(frame.Stack[inst.A])
			frame.PC += step

		case bytecode.OpCloseUpvals:
			frame.closeUpvaluesFrom(int(inst.A))
			frame.PC += step

		case bytecode.OpGetImport:
			v, err := m.resolveImport(inst, frame)
			if err != nil {
				return nil, err
			}
			frame.Stack[inst.A] = v
			frame.PC += step

		case bytecode.OpGetTable:
			v, err := tableGet(frame.Stack[inst.B], frame.Stack[inst.C])
			if err != nil {
				return nil, err
			}
			frame.Stack[inst.A] = v
			frame.PC += step

		case bytecode.OpSetTable:
			if err := tableSet(frame.Stack[inst.B], frame.Stack[inst.C], frame.Stack[inst.A]); err != nil {
				return nil, err
			}
			frame.PC += step

		case bytecode.OpGetTableKS:
			key := constantValue(inst.K, frame.Module)
			v, err := tableGet(frame.Stack[inst.B], key)
			if err != nil {
				return nil, err
			}
			frame.Stack[inst.A] = v
			frame.PC += step

		case bytecode.OpSetTableKS:
			key := constantValue(inst.K, frame.Module)
			if err := tableSet(frame.Stack[inst.B], key, frame.Stack[inst.A]); err != nil {
				return nil, err
			}
			frame.PC += step

		case bytecode.OpGetTableN:
			v, err := tableGet(frame.Stack[inst.B], value.Number(inst.C+1))
			if err != nil {
				return nil, err
			}
			frame.Stack[inst.A] = v
			frame.PC += step

		case bytecode.OpSetTableN:
			if err := tableSet(frame.Stack[inst.B], value.Number(inst.C+1), frame.Stack[inst.A]); err != nil {
				return nil, err
			}
			frame.PC += step

		case bytecode.OpNewClosure:
			n := m.makeClosure(c, frame, inst.A, int(inst.D), false)
			frame.PC += step + n

		case bytecode.OpDupClosure:
			n := m.makeDupClosure(c, frame, inst)
			frame.PC += step + n

		case bytecode.OpNameCall:
			receiver := frame.Stack[inst.B]
			frame.Stack[inst.A+1] = receiver
			pendingNamecall = &namecallState{receiver: receiver, method: frame.Module.String(inst.K.StrIdx)}
			frame.PC += step

		case bytecode.OpCall:
			results, nRet, err := m.execCall(c, frame, inst, pendingNamecall)
			pendingNamecall = nil
			if err != nil {
				return nil, err
			}
			spliceCallResults(frame, int(inst.A), int(inst.C), results, nRet)
			frame.PC += step

		case bytecode.OpReturn:
			if m.Settings.Hooks.Interrupt != nil {
				m.Settings.Hooks.Interrupt(m.debugFor(frame))
			}
			n := returnCount(inst.B, frame.Top, int(inst.A))
			out := make([]value.Value, n)
			for i := 0; i < n; i++ {
				out[i] = frame.Stack[int(inst.A)+i]
			}
			frame.closeAllUpvalues()
			frame.closeAllIterators()
			return out, nil

		case bytecode.OpJump:
			frame.PC += step + int(inst.D)

		case bytecode.OpJumpBack:
			if m.Settings.Hooks.Interrupt != nil {
				m.Settings.Hooks.Interrupt(m.debugFor(frame))
			}
			frame.PC += step + int(inst.D)

		case bytecode.OpJumpX:
			if m.Settings.Hooks.Interrupt != nil {
				m.Settings.Hooks.Interrupt(m.debugFor(frame))
			}
			frame.PC += step + int(inst.E)

		case bytecode.OpJumpIf:
			if frame.Stack[inst.A].Truthy() {
				frame.PC += step + int(inst.D)
			} else {
				frame.PC += step
			}

		case bytecode.OpJumpIfNot:
			if !frame.Stack[inst.A].Truthy() {
				frame.PC += step + int(inst.D)
			} else {
				frame.PC += step
			}

		case bytecode.OpJumpIfEq, bytecode.OpJumpIfNotEq,
			bytecode.OpJumpIfLe, bytecode.OpJumpIfNotLe,
			bytecode.OpJumpIfLt, bytecode.OpJumpIfNotLt:
			taken, err := compareJump(inst.Op, frame.Stack[inst.A], frame.Stack[int(inst.Aux)])
			if err != nil {
				return nil, err
			}
			if taken {
				// Per spec.md §4.6, D is relative to the post-increment base
				// (one word past the primary instruction, i.e. the AUX slot),
				// not past the AUX skip applied on fall-through.
				frame.PC += 1 + int(inst.D)
			} else {
				frame.PC += step
			}

		case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv,
			bytecode.OpMod, bytecode.OpPow, bytecode.OpIDiv:
			v, err := arith(inst.Op, frame.Stack[inst.B], frame.Stack[inst.C])
			if err != nil {
				return nil, err
			}
			frame.Stack[inst.A] = v
			frame.PC += step

		case bytecode.OpAddK, bytecode.OpSubK, bytecode.OpMulK, bytecode.OpDivK,
			bytecode.OpModK, bytecode.OpPowK, bytecode.OpIDivK:
			v, err := arith(arithKBase(inst.Op), frame.Stack[inst.B], constantValue(inst.K, frame.Module))
			if err != nil {
				return nil, err
			}
			frame.Stack[inst.A] = v
			frame.PC += step

		case bytecode.OpSubRK:
			v, err := arith(bytecode.OpSub, constantValue(inst.K, frame.Module), frame.Stack[inst.C])
			if err != nil {
				return nil, err
			}
			frame.Stack[inst.A] = v
			frame.PC += step

		case bytecode.OpDivRK:
			v, err := arith(bytecode.OpDiv, constantValue(inst.K, frame.Module), frame.Stack[inst.C])
			if err != nil {
				return nil, err
			}
			frame.Stack[inst.A] = v
			frame.PC += step

		case bytecode.OpAnd:
			frame.Stack[inst.A] = shortCircuitAnd(frame.Stack[inst.B], frame.Stack[inst.C])
			frame.PC += step

		case bytecode.OpOr:
			frame.Stack[inst.A] = shortCircuitOr(frame.Stack[inst.B], frame.Stack[inst.C])
			frame.PC += step

		case bytecode.OpAndK:
			frame.Stack[inst.A] = shortCircuitAnd(frame.Stack[inst.B], constantValue(inst.K, frame.Module))
			frame.PC += step

		case bytecode.OpOrK:
			frame.Stack[inst.A] = shortCircuitOr(frame.Stack[inst.B], constantValue(inst.K, frame.Module))
			frame.PC += step

		case bytecode.OpNot:
			frame.Stack[inst.A] = value.BoolValue(!frame.Stack[inst.B].Truthy())
			frame.PC += step

		case bytecode.OpMinus:
			v, err := unaryMinus(frame.Stack[inst.B])
			if err != nil {
				return nil, err
			}
			frame.Stack[inst.A] = v
			frame.PC += step

		case bytecode.OpLength:
			v, err := length(frame.Stack[inst.B])
			if err != nil {
				return nil, err
			}
			frame.Stack[inst.A] = v
			frame.PC += step

		case bytecode.OpConcat:
			v, err := concat(frame.Stack[inst.B : inst.C+1])
			if err != nil {
				return nil, err
			}
			frame.Stack[inst.A] = v
			frame.PC += step

		case bytecode.OpNewTable:
			frame.Stack[inst.A] = value.NewTable()
			frame.PC += step

		case bytecode.OpDupTable:
			frame.Stack[inst.A] = dupTable(inst.K, frame.Proto.Constants, frame.Module)
			frame.PC += step

		case bytecode.OpSetList:
			n := returnCount(inst.C, frame.Top, int(inst.B))
			dst, ok := frame.Stack[inst.A].(*value.Table)
			if !ok {
				return nil, newTypeError("SETLIST target is not a table")
			}
			for i := 0; i < n; i++ {
				dst.SetArray(int(inst.Aux)+i, frame.Stack[int(inst.B)+i])
			}
			frame.PC += step

		case bytecode.OpForNPrep:
			skip, err := forNPrep(frame, int(inst.A))
			if err != nil {
				return nil, err
			}
			if skip {
				frame.PC += step + int(inst.D)
			} else {
				frame.PC += step
			}

		case bytecode.OpForNLoop:
			if m.Settings.Hooks.Interrupt != nil {
				m.Settings.Hooks.Interrupt(m.debugFor(frame))
			}
			cont := forNLoop(frame, int(inst.A))
			if cont {
				frame.PC += step + int(inst.D)
			} else {
				frame.PC += step
			}

		case bytecode.OpForGPrep:
			target := frame.PC + step + int(inst.D)
			if err := m.forGPrep(frame, int(inst.A), target); err != nil {
				return nil, err
			}
			frame.PC += step + int(inst.D)

		case bytecode.OpForGPrepINext, bytecode.OpForGPrepNext:
			if _, ok := frame.Stack[inst.A].(value.Callable); !ok {
				return nil, newTypeError("for-in iterator is not a function")
			}
			frame.PC += step + int(inst.D)

		case bytecode.OpForGLoop:
			if m.Settings.Hooks.Interrupt != nil {
				m.Settings.Hooks.Interrupt(m.debugFor(frame))
			}
			cont, err := m.forGLoop(frame, inst)
			if err != nil {
				return nil, err
			}
			if cont {
				// D is relative to the post-increment base (the AUX slot),
				// per spec.md §4.6 — see the compare-jump group above.
				frame.PC += 1 + int(inst.D)
			} else {
				frame.PC += step
			}

		case bytecode.OpGetVarargs:
			n := int(inst.B) - 1
			if inst.B == 0 {
				n = len(frame.Varargs)
				frame.Top = int(inst.A) + n - 1
			}
			for i := 0; i < n; i++ {
				if i < len(frame.Varargs) {
					frame.Stack[int(inst.A)+i] = frame.Varargs[i]
				} else {
					frame.Stack[int(inst.A)+i] = value.NilValue
				}
			}
			frame.PC += step

		case bytecode.OpJumpXEqKNil:
			eq := value.IsNil(frame.Stack[inst.A])
			if eq != inst.KN {
				frame.PC += 1 + int(inst.D)
			} else {
				frame.PC += step
			}

		case bytecode.OpJumpXEqKB:
			b, _ := frame.Stack[inst.A].(value.Bool)
			eq := bool(b) == inst.K.Bool
			if eq != inst.KN {
				frame.PC += 1 + int(inst.D)
			} else {
				frame.PC += step
			}

		case bytecode.OpJumpXEqKN:
			n, ok := frame.Stack[inst.A].(value.Number)
			eq := ok && float64(n) == inst.K.Number
			if eq != inst.KN {
				frame.PC += 1 + int(inst.D)
			} else {
				frame.PC += step
			}

		case bytecode.OpJumpXEqKS:
			s, ok := frame.Stack[inst.A].(value.String)
			eq := ok && string(s) == frame.Module.String(inst.K.StrIdx)
			if eq != inst.KN {
				frame.PC += 1 + int(inst.D)
			} else {
				frame.PC += step
			}

		default:
			// Unsupported (§7/§9): advance past the word and continue,
			// preserving forward progress. The diagnostic built by
			// unsupportedOpcode is discarded; nothing is reported.
			_ = unsupportedOpcode(inst.Op)
			frame.PC += step
		}
	}
}

func (m *VM) debugFor(frame *Frame) host.Debug {
	return host.Debug{
		PC:         frame.PC,
		DebugName:  frame.DebugName,
		OpcodeName: frame.LastOpcode.String(),
	}
}

func (m *VM) setGlobal(name string, v value.Value) {
	if m.Settings.Extensions != nil {
		if !value.IsNil(m.Settings.Extensions.Get(value.String(name))) {
			m.Settings.Extensions.Set(value.String(name), v)
			return
		}
	}
	if m.Env != nil {
		m.Env.Set(value.String(name), v)
	}
}

func constantValue(k *bytecode.Constant, mod *bytecode.Module) value.Value {
	if k == nil {
		return value.NilValue
	}
	switch k.Kind {
	case bytecode.ConstNil:
		return value.NilValue
	case bytecode.ConstBool:
		return value.BoolValue(k.Bool)
	case bytecode.ConstNumber:
		return value.Number(k.Number)
	case bytecode.ConstString:
		return value.String(mod.String(k.StrIdx))
	case bytecode.ConstVector:
		return value.Vector{X: k.Vector[0], Y: k.Vector[1], Z: k.Vector[2], W: k.Vector[3]}
	default:
		return value.NilValue
	}
}

// dupTable materializes DUPTABLE's pre-populated table: k.TableKeys holds
// indices into the owning prototype's constant pool (the same pool inst.K
// itself came from), each naming one key via a String-kind constant.
// Values default to nil; they are filled by subsequent SETTABLEKS
// instructions, per spec.md §4.6.
func dupTable(k *bytecode.Constant, constants []bytecode.Constant, mod *bytecode.Module) *value.Table {
	t := value.NewTable()
	if k == nil {
		return t
	}
	for _, idx := range k.TableKeys {
		if idx < 0 || idx >= len(constants) {
			continue
		}
		keyConst := constants[idx]
		t.Set(constantValue(&keyConst, mod), value.NilValue)
	}
	return t
}

// resolveImport implements GETIMPORT's K-mode-4 walk, per spec.md §4.6. When
// use_import_constants is enabled the walk is against the host-supplied
// static environment instead of the live globals/extensions, per §4.3 step 4
// mode 4 and testable property §8.7: same path, same stop-at-first-nil
// semantics, just a different (and eagerly stable) root table.
func (m *VM) resolveImport(inst *bytecode.Instruction, frame *Frame) (value.Value, error) {
	if inst.K0 == nil {
		return value.NilValue, nil
	}
	name0 := frame.Module.String(inst.K0.StrIdx)

	var v value.Value
	if m.Settings.UseImportConstants {
		if m.Settings.StaticEnvironment == nil {
			return value.NilValue, nil
		}
		v = m.Settings.StaticEnvironment.Get(value.String(name0))
	} else {
		v = m.Settings.Lookup(name0, m.Env)
	}
	if value.IsNil(v) || inst.KC < 2 || inst.K1 == nil {
		return v, nil
	}

	v, err := importIndex(v, frame.Module.String(inst.K1.StrIdx))
	if err != nil || value.IsNil(v) || inst.KC < 3 || inst.K2 == nil {
		return v, err
	}
	return importIndex(v, frame.Module.String(inst.K2.StrIdx))
}

// importIndex is tableGet specialized for the GETIMPORT walk: indexing nil
// is a clean "stop here, value is nil" rather than a type error, since the
// walk is allowed to bottom out early at any step.
func importIndex(container value.Value, key string) (value.Value, error) {
	if value.IsNil(container) {
		return value.NilValue, nil
	}
	return tableGet(container, value.String(key))
}

func tableGet(container, key value.Value) (value.Value, error) {
	t, ok := container.(*value.Table)
	if !ok {
		return nil, newTypeError("attempt to index a %s value", container.Kind())
	}
	return t.Get(key), nil
}

func tableSet(container, key, v value.Value) error {
	t, ok := container.(*value.Table)
	if !ok {
		return newTypeError("attempt to index a %s value", container.Kind())
	}
	t.Set(key, v)
	return nil
}

func shortCircuitAnd(b, c value.Value) value.Value {
	if !b.Truthy() {
		return b
	}
	if c.Truthy() {
		return c
	}
	return value.False
}

func shortCircuitOr(b, c value.Value) value.Value {
	if b.Truthy() {
		return b
	}
	if c.Truthy() {
		return c
	}
	return value.False
}

func unaryMinus(v value.Value) (value.Value, error) {
	n, ok := v.(value.Number)
	if !ok {
		return nil, newTypeError("attempt to perform arithmetic on a %s value", v.Kind())
	}
	return -n, nil
}

func length(v value.Value) (value.Value, error) {
	switch t := v.(type) {
	case *value.Table:
		return value.Number(t.Len()), nil
	case value.String:
		return value.Number(len(t)), nil
	default:
		return nil, newTypeError("attempt to get length of a %s value", v.Kind())
	}
}

// arithKBase maps an *K variant opcode to its register-register base, so
// arith() has one implementation shared by both flavors.
func arithKBase(op bytecode.Opcode) bytecode.Opcode {
	switch op {
	case bytecode.OpAddK:
		return bytecode.OpAdd
	case bytecode.OpSubK:
		return bytecode.OpSub
	case bytecode.OpMulK:
		return bytecode.OpMul
	case bytecode.OpDivK:
		return bytecode.OpDiv
	case bytecode.OpModK:
		return bytecode.OpMod
	case bytecode.OpPowK:
		return bytecode.OpPow
	case bytecode.OpIDivK:
		return bytecode.OpIDiv
	default:
		return op
	}
}
