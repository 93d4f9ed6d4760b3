package vm

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/probechain/vellum/internal/bytecode"
	"github.com/probechain/vellum/internal/host"
	"github.com/probechain/vellum/internal/value"
)

// Error kinds, per spec.md §7.
var (
	// ErrType covers arithmetic/indexing on an incompatible value, invalid
	// for-loop numeric coercion, and iteration over a non-iterable.
	ErrType = errors.New("vm: type error")
	// ErrRuntime covers host-function failures (namecall handler,
	// extension calls).
	ErrRuntime = errors.New("vm: runtime error")
)

// ScriptError wraps an arbitrary Value raised by script or host code (the
// "raw payload" spec.md §4.8/§7 describes), before allow_proxy_errors
// coercion is applied at the protected-call boundary.
type ScriptError struct {
	Payload value.Value
}

func (e *ScriptError) Error() string {
	return e.Payload.String()
}

func newTypeError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrType}, args...)...)
}

func newRuntimeError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrRuntime}, args...)...)
}

// Diagnostic is the failure surfaced at the single protected-call
// boundary (C8), carrying debug_name, last PC, last opname and a
// correlation id for cross-instance log aggregation.
type Diagnostic struct {
	ID        uuid.UUID
	DebugName string
	PC        int
	Opname    string
	Cause     error
}

func (d *Diagnostic) Error() string {
	return fmt.Sprintf("<vellum>>lvm error [name>%s>opcode %s]>%s", d.DebugName, d.Opname, d.Cause)
}

func (d *Diagnostic) Unwrap() error { return d.Cause }

// invokeProtected is the single protected-call boundary described in
// spec.md §4.8: it runs the dispatch loop, recovers any unexpected Go
// panic (malformed bytecode producing an out-of-range register access,
// for instance) as an error (a panic value that is not an error is
// wrapped as a RuntimeError), invokes the panic hook with the raw
// payload, and formats the final diagnostic.
func (m *VM) invokeProtected(c *Closure, frame *Frame) (results []value.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			goErr, ok := r.(error)
			if !ok {
				goErr = newRuntimeError("%v", r)
			}
			err = m.finishProtected(goErr, frame)
			results = nil
		}
	}()

	results, runErr := m.run(c, frame)
	if runErr != nil {
		return nil, m.finishProtected(runErr, frame)
	}
	return results, nil
}

func (m *VM) finishProtected(cause error, frame *Frame) error {
	// A nested closure's boundary has already run the panic hook and built
	// the diagnostic; pass it through so the hook fires once per failure.
	var inner *Diagnostic
	if errors.As(cause, &inner) {
		return cause
	}
	payload := protectedPayload(cause, m.Settings)

	dbg := host.Debug{
		PC:         frame.PC,
		DebugName:  frame.DebugName,
		OpcodeName: frame.LastOpcode.String(),
	}
	if m.Settings.Hooks.Panic != nil {
		m.Settings.Hooks.Panic(payload, dbg)
	}

	return &Diagnostic{
		ID:        uuid.New(),
		DebugName: frame.DebugName,
		PC:        frame.PC,
		Opname:    frame.LastOpcode.String(),
		Cause:     cause,
	}
}

// protectedPayload extracts the raw error payload, coercing it to its
// type tag when allow_proxy_errors is disabled, per spec.md §4.7/§4.8.
func protectedPayload(cause error, settings host.Settings) value.Value {
	var se *ScriptError
	if errors.As(cause, &se) {
		if settings.AllowProxyErrors {
			return se.Payload
		}
		return value.String(se.Payload.Kind().String())
	}
	return value.String(cause.Error())
}

// unsupportedOpcode builds the diagnostic for an unrecognized opcode byte.
// The dispatch loop discards it and skips the word: it never aborts the
// loop.
func unsupportedOpcode(op bytecode.Opcode) error {
	return fmt.Errorf("vm: unsupported opcode %d", uint8(op))
}
