// Package host defines the embedder-supplied configuration surface (C7):
// the Settings record and its call hooks, extension table, and import
// pre-resolution knobs. It depends only on internal/value, never on
// internal/vm, so that internal/vm can depend on host without a cycle.
package host

import "github.com/probechain/vellum/internal/value"

// Debug is the per-instruction debug record passed to call hooks, per
// spec.md §4.6's step_hook signature.
type Debug struct {
	PC         int
	Name       string
	DebugName  string
	OpcodeName string
}

// StepHook fires before each executed instruction.
type StepHook func(stack []value.Value, dbg Debug)

// BreakHook fires on a BREAK instruction.
type BreakHook func(dbg Debug)

// InterruptHook fires before CALL, RETURN, JUMPBACK, JUMPX, and each
// FORNLOOP/FORGLOOP iteration.
type InterruptHook func(dbg Debug)

// PanicHook fires once at protected-call failure, before the diagnostic
// surfaces to the caller.
type PanicHook func(payload value.Value, dbg Debug)

// NamecallHandler is the optional native dispatcher for NAMECALL, per
// spec.md §4.6. It returns handled=true when it fully serviced the call
// (the core then splices its results like a normal call and skips the
// following CALL instruction).
type NamecallHandler func(receiver value.Value, method string, args []value.Value) (handled bool, results []value.Value, err error)

// VectorCtor builds a vector value from vector_size floats (3 or 4).
type VectorCtor func(components []float32) value.Value

// Hooks bundles the four call-hook callbacks; any may be nil.
type Hooks struct {
	Step      StepHook
	Break     BreakHook
	Interrupt InterruptHook
	Panic     PanicHook
}

// Settings is the configuration record an embedder builds once per Load
// call, per spec.md §4.7.
type Settings struct {
	VectorCtor   VectorCtor
	VectorSize   int // 3 or 4

	UseNativeNamecall bool
	NamecallHandler   NamecallHandler

	// Extensions shadows the global environment on GETGLOBAL/GETIMPORT:
	// a name present here is consulted before the env table.
	Extensions *value.Table

	Hooks Hooks

	ErrorHandling        bool
	GeneralizedIteration bool
	AllowProxyErrors     bool

	UseImportConstants bool
	StaticEnvironment  *value.Table
}

// Lookup resolves name first against Extensions, then against env,
// implementing the "extensions shadow env" rule used by GETGLOBAL and the
// first step of GETIMPORT.
func (s Settings) Lookup(name string, env *value.Table) value.Value {
	if s.Extensions != nil {
		if v := s.Extensions.Get(value.String(name)); !value.IsNil(v) {
			return v
		}
	}
	if env == nil {
		return value.NilValue
	}
	return env.Get(value.String(name))
}
