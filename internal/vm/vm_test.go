package vm

import (
	"testing"

	"github.com/probechain/vellum/internal/bytecode"
	"github.com/probechain/vellum/internal/host"
	"github.com/probechain/vellum/internal/value"
)

// These tests build Module/Prototype graphs directly (bypassing the wire
// decoder, which internal/bytecode's own tests already exercise) so each
// case isolates one dispatch-loop contract from spec.md §8's end-to-end
// scenarios.

func runProto(t *testing.T, proto *bytecode.Prototype, module *bytecode.Module, settings host.Settings, args ...value.Value) []value.Value {
	t.Helper()
	m := New(value.NewTable(), settings)
	c := m.NewClosure(proto, module, nil)
	results, err := c.Call(args)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	return results
}

func TestReturnAddition(t *testing.T) {
	proto := &bytecode.Prototype{
		MaxStackSize: 3,
		Code: []bytecode.Instruction{
			{Op: bytecode.OpLoadN, A: 0, D: 1},
			{Op: bytecode.OpLoadN, A: 1, D: 2},
			{Op: bytecode.OpAdd, A: 2, B: 0, C: 1},
			{Op: bytecode.OpReturn, A: 2, B: 2},
		},
	}
	module := &bytecode.Module{Prototypes: []*bytecode.Prototype{proto}, Strings: []string{""}}

	results := runProto(t, proto, module, host.Settings{})
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if n, ok := results[0].(value.Number); !ok || n != 3 {
		t.Fatalf("results[0] = %v, want 3", results[0])
	}
}

func TestTableConstructAndIndex(t *testing.T) {
	proto := &bytecode.Prototype{
		MaxStackSize: 3,
		Code: []bytecode.Instruction{
			{Op: bytecode.OpNewTable, A: 0},
			{IsAuxSlot: true},
			{Op: bytecode.OpLoadN, A: 1, D: 10},
			{Op: bytecode.OpSetTableN, A: 1, B: 0, C: 0},
			{Op: bytecode.OpLoadN, A: 1, D: 20},
			{Op: bytecode.OpSetTableN, A: 1, B: 0, C: 1},
			{Op: bytecode.OpLoadN, A: 1, D: 30},
			{Op: bytecode.OpSetTableN, A: 1, B: 0, C: 2},
			{Op: bytecode.OpGetTableN, A: 2, B: 0, C: 1},
			{Op: bytecode.OpReturn, A: 2, B: 2},
		},
	}
	module := &bytecode.Module{Prototypes: []*bytecode.Prototype{proto}, Strings: []string{""}}

	results := runProto(t, proto, module, host.Settings{})
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if n, ok := results[0].(value.Number); !ok || n != 20 {
		t.Fatalf("results[0] = %v, want 20 (t[2])", results[0])
	}
}

func TestNumericForConcat(t *testing.T) {
	constants := []bytecode.Constant{{Kind: bytecode.ConstString, StrIdx: 1}}
	proto := &bytecode.Prototype{
		MaxStackSize: 5,
		Constants:    constants,
		Code: []bytecode.Instruction{
			{Op: bytecode.OpLoadN, A: 0, D: 3},          // limit
			{Op: bytecode.OpLoadN, A: 1, D: 1},          // step
			{Op: bytecode.OpLoadN, A: 2, D: 1},          // index
			{Op: bytecode.OpLoadK, A: 3, K: &constants[0]}, // s = ""
			{Op: bytecode.OpForNPrep, A: 0, D: 3},       // skip -> idx 8
			{Op: bytecode.OpMove, A: 4, B: 2},           // r4 = i
			{Op: bytecode.OpConcat, A: 3, B: 3, C: 4},   // s = s .. i
			{Op: bytecode.OpForNLoop, A: 0, D: -3},      // back to idx 5
			{Op: bytecode.OpReturn, A: 3, B: 2},
		},
	}
	module := &bytecode.Module{Prototypes: []*bytecode.Prototype{proto}, Strings: []string{"", ""}}

	results := runProto(t, proto, module, host.Settings{})
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if s, ok := results[0].(value.String); !ok || string(s) != "123" {
		t.Fatalf("results[0] = %v, want \"123\"", results[0])
	}
}

func TestGeneralizedIterationOverTable(t *testing.T) {
	constants := []bytecode.Constant{
		{Kind: bytecode.ConstString, StrIdx: 1},
		{Kind: bytecode.ConstString, StrIdx: 2},
	}
	proto := &bytecode.Prototype{
		MaxStackSize: 8,
		Constants:    constants,
		Code: []bytecode.Instruction{
			{Op: bytecode.OpNewTable, A: 1}, // source table r1
			{IsAuxSlot: true},
			{Op: bytecode.OpLoadK, A: 2, K: &constants[0]}, // "a"
			{Op: bytecode.OpSetTableN, A: 2, B: 1, C: 0},   // t[1] = "a"
			{Op: bytecode.OpLoadK, A: 2, K: &constants[1]}, // "b"
			{Op: bytecode.OpSetTableN, A: 2, B: 1, C: 1},   // t[2] = "b"
			{Op: bytecode.OpNewTable, A: 0},                // out table r0
			{IsAuxSlot: true},
			{Op: bytecode.OpForGPrep, A: 1, D: 1}, // target idx 10
			{Op: bytecode.OpSetTable, A: 5, B: 0, C: 4}, // out[key] = val
			{Op: bytecode.OpForGLoop, A: 1, KC: 2, D: -2}, // back to idx 9 (SetTable)
			{IsAuxSlot: true},
			{Op: bytecode.OpReturn, A: 0, B: 2},
		},
	}
	module := &bytecode.Module{Prototypes: []*bytecode.Prototype{proto}, Strings: []string{"", "a", "b"}}

	settings := host.Settings{GeneralizedIteration: true}
	results := runProto(t, proto, module, settings)
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	out, ok := results[0].(*value.Table)
	if !ok {
		t.Fatalf("results[0] = %v, want a table", results[0])
	}
	if s, ok := out.GetArray(1).(value.String); !ok || string(s) != "a" {
		t.Fatalf("out[1] = %v, want \"a\"", out.GetArray(1))
	}
	if s, ok := out.GetArray(2).(value.String); !ok || string(s) != "b" {
		t.Fatalf("out[2] = %v, want \"b\"", out.GetArray(2))
	}
}

func TestGeneralizedIterationRequiresOptIn(t *testing.T) {
	proto := &bytecode.Prototype{
		MaxStackSize: 8,
		Code: []bytecode.Instruction{
			{Op: bytecode.OpNewTable, A: 1},
			{IsAuxSlot: true},
			{Op: bytecode.OpForGPrep, A: 1, D: 1},
			{Op: bytecode.OpNop},
			{Op: bytecode.OpForGLoop, A: 1, KC: 0, D: -1},
			{IsAuxSlot: true},
			{Op: bytecode.OpReturn, A: 0, B: 1},
		},
	}
	module := &bytecode.Module{Prototypes: []*bytecode.Prototype{proto}, Strings: []string{""}}

	m := New(value.NewTable(), host.Settings{GeneralizedIteration: false})
	c := m.NewClosure(proto, module, nil)
	if _, err := c.Call(nil); err == nil {
		t.Fatal("expected a type error when iterating a table without generalized_iteration enabled")
	}
}

func TestClosureUpvalueMutationObservedAfterCall(t *testing.T) {
	innerProto := &bytecode.Prototype{
		MaxStackSize: 1,
		NumUpvalues:  1,
		Code: []bytecode.Instruction{
			{Op: bytecode.OpLoadN, A: 0, D: 20},
			{Op: bytecode.OpSetUpval, A: 0, B: 0},
			{Op: bytecode.OpReturn, A: 0, B: 1},
		},
	}
	outerProto := &bytecode.Prototype{
		MaxStackSize: 3,
		Protos:       []int{1},
		Code: []bytecode.Instruction{
			{Op: bytecode.OpLoadN, A: 0, D: 10},
			{Op: bytecode.OpNewClosure, A: 1, D: 0},
			{Op: bytecode.OpCapture, A: 1, B: 0}, // mode 1: reference-capture register 0
			{Op: bytecode.OpCall, A: 1, B: 1, C: 1},
			{Op: bytecode.OpReturn, A: 0, B: 2},
		},
	}
	module := &bytecode.Module{
		Prototypes:  []*bytecode.Prototype{outerProto, innerProto},
		MainProtoID: 0,
		Strings:     []string{""},
	}

	results := runProto(t, outerProto, module, host.Settings{})
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if n, ok := results[0].(value.Number); !ok || n != 20 {
		t.Fatalf("results[0] = %v, want 20 (mutated via open upvalue)", results[0])
	}
}

func TestGetGlobalExtensionShadowsEnv(t *testing.T) {
	constants := []bytecode.Constant{{Kind: bytecode.ConstString, StrIdx: 1}}
	proto := &bytecode.Prototype{
		MaxStackSize: 1,
		Constants:    constants,
		Code: []bytecode.Instruction{
			{Op: bytecode.OpGetGlobal, A: 0, K: &constants[0]},
			{IsAuxSlot: true},
			{Op: bytecode.OpReturn, A: 0, B: 2},
		},
	}
	module := &bytecode.Module{Prototypes: []*bytecode.Prototype{proto}, Strings: []string{"", "foo"}}

	ext := value.NewTable()
	ext.Set(value.String("foo"), value.Number(42))
	settings := host.Settings{Extensions: ext}

	env := value.NewTable()
	env.Set(value.String("foo"), value.Number(99))

	m := New(env, settings)
	c := m.NewClosure(proto, module, nil)
	results, err := c.Call(nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if n, ok := results[0].(value.Number); !ok || n != 42 {
		t.Fatalf("results[0] = %v, want 42 (extension shadows env)", results[0])
	}
}

func TestCallWithMultiReturn(t *testing.T) {
	// inner(): return 1, 2, 3 (RETURN B=4: three explicit results)
	innerProto := &bytecode.Prototype{
		MaxStackSize: 3,
		Code: []bytecode.Instruction{
			{Op: bytecode.OpLoadN, A: 0, D: 1},
			{Op: bytecode.OpLoadN, A: 1, D: 2},
			{Op: bytecode.OpLoadN, A: 2, D: 3},
			{Op: bytecode.OpReturn, A: 0, B: 4}, // explicit 3 results
		},
	}
	// outer(): local a, b, c = inner(); return a+b+c
	outerProto := &bytecode.Prototype{
		MaxStackSize: 4,
		Protos:       []int{1},
		Code: []bytecode.Instruction{
			{Op: bytecode.OpNewClosure, A: 0, D: 0},
			{Op: bytecode.OpCall, A: 0, B: 1, C: 0}, // C=0: multi-return, capped by Top
			{Op: bytecode.OpAdd, A: 0, B: 0, C: 1},
			{Op: bytecode.OpAdd, A: 0, B: 0, C: 2},
			{Op: bytecode.OpReturn, A: 0, B: 2},
		},
	}
	module := &bytecode.Module{
		Prototypes:  []*bytecode.Prototype{outerProto, innerProto},
		MainProtoID: 0,
		Strings:     []string{""},
	}

	results := runProto(t, outerProto, module, host.Settings{})
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if n, ok := results[0].(value.Number); !ok || n != 6 {
		t.Fatalf("results[0] = %v, want 6", results[0])
	}
}

func TestVarargsCapturedRegardlessOfIsVararg(t *testing.T) {
	proto := &bytecode.Prototype{
		MaxStackSize: 2,
		NumParams:    0,
		IsVararg:     false, // varargs are always captured per spec.md §4.5
		Code: []bytecode.Instruction{
			{Op: bytecode.OpGetVarargs, A: 0, B: 2}, // b=1: just the first vararg
			{Op: bytecode.OpReturn, A: 0, B: 2},
		},
	}
	module := &bytecode.Module{Prototypes: []*bytecode.Prototype{proto}, Strings: []string{""}}

	results := runProto(t, proto, module, host.Settings{}, value.Number(7), value.Number(8))
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if n, ok := results[0].(value.Number); !ok || n != 7 {
		t.Fatalf("results[0] = %v, want 7", results[0])
	}
}

func TestCloseRequestsCooperativeShutdown(t *testing.T) {
	// An infinite loop that would never terminate without alive=false.
	proto := &bytecode.Prototype{
		MaxStackSize: 1,
		Code: []bytecode.Instruction{
			{Op: bytecode.OpJumpBack, A: 0, D: -1},
		},
	}
	module := &bytecode.Module{Prototypes: []*bytecode.Prototype{proto}, Strings: []string{""}}

	m := New(value.NewTable(), host.Settings{})
	m.Close()
	c := m.NewClosure(proto, module, nil)
	results, err := c.Call(nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if results != nil {
		t.Fatalf("results = %v, want nil after cooperative shutdown", results)
	}
}
