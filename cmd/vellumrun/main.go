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

// Command vellumrun loads a compiled bytecode file and runs its main
// prototype, printing any returned values. Grounded on
// probe-lang/cmd/probec's urfave/cli.v1 flag/command layout, repurposed
// from "compile a source file" to "run a compiled chunk".
package main

import (
	"fmt"
	"io/ioutil"
	"os"

	cli "gopkg.in/urfave/cli.v1"

	"github.com/probechain/vellum/internal/host"
	"github.com/probechain/vellum/internal/hostlib"
	"github.com/probechain/vellum/internal/value"
	"github.com/probechain/vellum"
)

func mergeExtensions(tables ...map[string]value.Value) *value.Table {
	t := value.NewTable()
	for _, tbl := range tables {
		for name, fn := range tbl {
			t.Set(value.String(name), fn)
		}
	}
	return t
}

func run(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.NewExitError("vellumrun: missing bytecode file argument", 1)
	}
	path := c.Args().Get(0)
	code, err := ioutil.ReadFile(path)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("vellumrun: %v", err), 1)
	}

	env := value.NewTable()
	settings := host.Settings{
		VectorSize:           3,
		ErrorHandling:        true,
		GeneralizedIteration: true,
		AllowProxyErrors:     c.Bool("allow-proxy-errors"),
		Extensions:           mergeExtensions(hostlib.Extensions(), hostlib.ArrayExtensions()),
	}
	if c.Bool("verbose") {
		settings.Hooks.Step = func(stack []value.Value, dbg host.Debug) {
			fmt.Fprintf(os.Stderr, "pc=%d op=%s\n", dbg.PC, dbg.OpcodeName)
		}
	}

	prog, err := vellum.Load(code, env, settings)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("vellumrun: load: %v", err), 1)
	}
	defer prog.Close()

	results, err := prog.Run()
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("vellumrun: run: %v", err), 1)
	}
	for _, r := range results {
		fmt.Println(r.String())
	}
	return nil
}

func main() {
	app := cli.NewApp()
	app.Name = "vellumrun"
	app.Usage = "run a compiled bytecode chunk"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.BoolFlag{Name: "verbose", Usage: "log each executed instruction to stderr"},
		cli.BoolFlag{Name: "allow-proxy-errors", Usage: "surface host errors as opaque proxy payloads"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
