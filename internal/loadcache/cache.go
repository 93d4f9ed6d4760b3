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

// Package loadcache memoizes bytecode.Load by a digest of the input bytes,
// so repeatedly loading the same compiled chunk (a common embedder pattern
// when re-running a script against many environments) skips re-parsing.
package loadcache

import (
	"crypto/sha256"

	lru "github.com/hashicorp/golang-lru"

	"github.com/probechain/vellum/internal/bytecode"
)

// DefaultSize is the default number of distinct modules the cache retains.
const DefaultSize = 128

// Cache memoizes decoded *bytecode.Module values by content digest.
type Cache struct {
	lru *lru.Cache
}

// New creates a Cache holding up to size distinct modules.
func New(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: c}, nil
}

// digest returns the content-address key for buf.
func digest(buf []byte) [32]byte {
	return sha256.Sum256(buf)
}

// Load returns the cached *bytecode.Module for buf if present, otherwise
// decodes it via bytecode.Load and stores the result (including a nil
// module on error is not cached, so a bad chunk is always retried).
func (c *Cache) Load(buf []byte) (*bytecode.Module, error) {
	key := digest(buf)
	if v, ok := c.lru.Get(key); ok {
		return v.(*bytecode.Module), nil
	}
	mod, err := bytecode.Load(buf)
	if err != nil {
		return nil, err
	}
	c.lru.Add(key, mod)
	return mod, nil
}

// Purge drops every cached module.
func (c *Cache) Purge() {
	c.lru.Purge()
}

// Len returns the number of cached modules.
func (c *Cache) Len() int {
	return c.lru.Len()
}
