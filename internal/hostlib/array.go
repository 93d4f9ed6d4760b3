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

package hostlib

import (
	"github.com/probechain/vellum/internal/value"
)

// NumericArray generalizes the teacher's fixed-width U64Array into a
// float64-backed numeric vector that converts to and from value.Table
// (ToTable/FromTable), since host extensions must speak value.Value rather
// than native Go slices.
type NumericArray struct {
	data []float64
}

// NewNumericArray wraps data as a NumericArray.
func NewNumericArray(data []float64) *NumericArray {
	return &NumericArray{data: data}
}

// Len returns the element count.
func (a *NumericArray) Len() int { return len(a.data) }

// Sum adds every element.
func (a *NumericArray) Sum() float64 {
	var s float64
	for _, v := range a.data {
		s += v
	}
	return s
}

// Map returns a new array with fn applied to every element.
func (a *NumericArray) Map(fn func(float64) float64) *NumericArray {
	out := make([]float64, len(a.data))
	for i, v := range a.data {
		out[i] = fn(v)
	}
	return &NumericArray{data: out}
}

// Zip pairs elements of a and b with fn, truncating to the shorter length.
func (a *NumericArray) Zip(b *NumericArray, fn func(x, y float64) float64) *NumericArray {
	n := len(a.data)
	if len(b.data) < n {
		n = len(b.data)
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = fn(a.data[i], b.data[i])
	}
	return &NumericArray{data: out}
}

// Filter keeps elements for which pred returns true.
func (a *NumericArray) Filter(pred func(float64) bool) *NumericArray {
	var out []float64
	for _, v := range a.data {
		if pred(v) {
			out = append(out, v)
		}
	}
	return &NumericArray{data: out}
}

// Reduce folds the array with fn starting from init.
func (a *NumericArray) Reduce(init float64, fn func(acc, v float64) float64) float64 {
	acc := init
	for _, v := range a.data {
		acc = fn(acc, v)
	}
	return acc
}

// Iota builds a NumericArray [1, 2, ..., n], mirroring the teacher's
// package-level Iota helper.
func Iota(n int) *NumericArray {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i + 1)
	}
	return &NumericArray{data: out}
}

// Dot computes the dot product of a and b over their shared prefix length.
func Dot(a, b *NumericArray) float64 {
	return a.Zip(b, func(x, y float64) float64 { return x * y }).Sum()
}

// ToTable converts a NumericArray to a 1-based script table.
func (a *NumericArray) ToTable() *value.Table {
	t := value.NewTable()
	for i, v := range a.data {
		t.SetArray(i+1, value.Number(v))
	}
	return t
}

// FromTable reads a 1-based script table's array part into a NumericArray.
func FromTable(t *value.Table) *NumericArray {
	n := t.Len()
	data := make([]float64, n)
	for i := 0; i < n; i++ {
		if num, ok := t.GetArray(i + 1).(value.Number); ok {
			data[i] = float64(num)
		}
	}
	return &NumericArray{data: data}
}

// ArrayExtensions returns the array host extension table, ready to merge
// into host.Settings.Extensions.
func ArrayExtensions() map[string]value.Value {
	return map[string]value.Value{
		"array_sum": &value.NativeFunc{Name: "array_sum", Fn: func(args []value.Value) ([]value.Value, error) {
			tbl, ok := args[0].(*value.Table)
			if !ok {
				return nil, value.ErrNotIndexable
			}
			return []value.Value{value.Number(FromTable(tbl).Sum())}, nil
		}},
		"array_dot": &value.NativeFunc{Name: "array_dot", Fn: func(args []value.Value) ([]value.Value, error) {
			a, ok := args[0].(*value.Table)
			if !ok {
				return nil, value.ErrNotIndexable
			}
			b, ok := args[1].(*value.Table)
			if !ok {
				return nil, value.ErrNotIndexable
			}
			return []value.Value{value.Number(Dot(FromTable(a), FromTable(b)))}, nil
		}},
		"array_iota": &value.NativeFunc{Name: "array_iota", Fn: func(args []value.Value) ([]value.Value, error) {
			n, ok := args[0].(value.Number)
			if !ok {
				return nil, value.ErrNotIndexable
			}
			return []value.Value{Iota(int(n)).ToTable()}, nil
		}},
	}
}
