// Package vm implements the register-based dispatch loop (C6), the
// upvalue/frame model (C4's mutable half), the closure factory (C5), and
// the protected-call error boundary (C8) described in spec.md §3-§4.8.
package vm

import (
	"fmt"

	"github.com/probechain/vellum/internal/bytecode"
	"github.com/probechain/vellum/internal/host"
	"github.com/probechain/vellum/internal/value"
)

// VM is the shared execution context for every closure created against one
// loaded Module: the global environment, host settings, and the
// cooperative-shutdown switch described in spec.md §4.6/§5.
type VM struct {
	Env      *value.Table
	Settings host.Settings
	alive    bool
}

// New constructs a VM ready to wrap prototypes into callable closures.
func New(env *value.Table, settings host.Settings) *VM {
	return &VM{Env: env, Settings: settings, alive: true}
}

// Close requests cooperative shutdown: the dispatch loop observes this at
// its next check point and exits cleanly, closing upvalues and iterators.
func (m *VM) Close() {
	m.alive = false
}

// Closure binds a prototype to its captured upvalues, per spec.md §4.4/§4.5.
// It implements value.Callable so it can sit in registers and tables
// alongside native host functions.
type Closure struct {
	vm       *VM
	Proto    *bytecode.Prototype
	Module   *bytecode.Module
	Upvalues []*Upvalue
}

// NewClosure wraps proto (looked up in module by index elsewhere) with the
// given captured upvalues, implementing the NEWCLOSURE/DUPCLOSURE
// pseudo-instruction capture protocol described in spec.md §4.6.
func (m *VM) NewClosure(proto *bytecode.Prototype, module *bytecode.Module, upvalues []*Upvalue) *Closure {
	return &Closure{vm: m, Proto: proto, Module: module, Upvalues: upvalues}
}

func (c *Closure) Kind() value.Kind { return value.KindCallable }
func (c *Closure) Truthy() bool     { return true }
func (c *Closure) String() string {
	return fmt.Sprintf("function: %s", c.Proto.DebugName)
}

// Call implements the closure factory (C5): allocate a fresh frame, copy
// parameters, capture the remainder as varargs regardless of the
// prototype's is_vararg flag, then invoke the dispatch loop directly or
// under the protected-call boundary per Settings.ErrorHandling.
func (c *Closure) Call(args []value.Value) ([]value.Value, error) {
	frame := newFrame(c.Proto, c.Module)

	n := c.Proto.NumParams
	for i := 0; i < n && i < len(args); i++ {
		frame.Stack[i] = args[i]
	}
	if n > 0 {
		frame.ensureTop(n - 1)
	}
	if len(args) > n {
		frame.Varargs = append([]value.Value{}, args[n:]...)
	}

	if c.vm.Settings.ErrorHandling {
		return c.vm.invokeProtected(c, frame)
	}
	return c.vm.run(c, frame)
}
