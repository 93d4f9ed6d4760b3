// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The ProbeChain is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the ProbeChain. If not, see <http://www.gnu.org/licenses/>.

// Package vellum is the public API of the bytecode VM: load a compiled
// chunk, bind it to a host environment, and run it.
package vellum

import (
	"github.com/probechain/vellum/internal/bytecode"
	"github.com/probechain/vellum/internal/host"
	"github.com/probechain/vellum/internal/loadcache"
	"github.com/probechain/vellum/internal/value"
	"github.com/probechain/vellum/internal/vm"
)

// Program is a loaded chunk bound to a host environment, ready to run.
// Grounded on probe-lang/integration/engine.go's load-then-run
// ExecutionContext shape.
type Program struct {
	module *bytecode.Module
	vm     *vm.VM
}

// Load decodes code (a compiled bytecode blob, per spec.md §6) and binds it
// to env/settings, producing a runnable Program. It does not execute
// anything; call Run to invoke the module's main prototype.
func Load(code []byte, env *value.Table, settings host.Settings) (*Program, error) {
	mod, err := bytecode.Load(code)
	if err != nil {
		return nil, err
	}
	return &Program{module: mod, vm: vm.New(env, settings)}, nil
}

// LoadCached behaves like Load but decodes through cache, so repeated loads
// of the identical byte sequence skip re-parsing.
func LoadCached(cache *loadcache.Cache, code []byte, env *value.Table, settings host.Settings) (*Program, error) {
	mod, err := cache.Load(code)
	if err != nil {
		return nil, err
	}
	return &Program{module: mod, vm: vm.New(env, settings)}, nil
}

// Run invokes the module's main prototype with args and returns its
// results, per spec.md §4.5/§4.6's closure-call semantics.
func (p *Program) Run(args ...value.Value) ([]value.Value, error) {
	main := p.vm.NewClosure(p.module.MainProto(), p.module, nil)
	return main.Call(args)
}

// Close requests cooperative shutdown of the Program's VM: the dispatch
// loop observes this at its next check point and unwinds cleanly.
func (p *Program) Close() {
	p.vm.Close()
}
