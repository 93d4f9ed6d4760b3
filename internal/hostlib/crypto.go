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

// Package hostlib provides example host extensions: pluggable functions an
// embedder registers into host.Settings.Extensions so scripts can call
// them via GETGLOBAL/NAMECALL. The crypto helpers are wired to the
// third-party crypto libraries this module's go.mod carries; the array
// helpers use no third-party library.
package hostlib

import (
	"github.com/btcsuite/btcd/btcec"
	"github.com/cloudflare/circl/sign/dilithium/mode2"
	"golang.org/x/crypto/sha3"

	"github.com/probechain/vellum/internal/value"
)

// Hash computes SHA3-256 of data. Completes the teacher's
// stdlib/crypto.Hash TODO by wiring golang.org/x/crypto/sha3.
func Hash(data []byte) [32]byte {
	return sha3.Sum256(data)
}

// Shake256 computes a variable-length SHAKE256 digest. Completes the
// teacher's stdlib/crypto.SHAKE256 TODO.
func Shake256(data []byte, outputLen int) []byte {
	out := make([]byte, outputLen)
	sha3.ShakeSum256(out, data)
	return out
}

// Secp256k1Recover recovers the uncompressed public key bytes from a
// 65-byte recoverable signature over hash. Completes the teacher's
// stdlib/crypto.Secp256k1Recover TODO by wiring
// github.com/btcsuite/btcd/btcec.
func Secp256k1Recover(hash [32]byte, sig [65]byte) ([]byte, error) {
	pub, _, err := btcec.RecoverCompact(btcec.S256(), sig[:], hash[:])
	if err != nil {
		return nil, err
	}
	return pub.SerializeUncompressed(), nil
}

// MLDSAVerify verifies an ML-DSA (Dilithium mode2) signature. Completes
// the teacher's stdlib/crypto.MLDSAVerify TODO by wiring
// github.com/cloudflare/circl's dilithium implementation.
func MLDSAVerify(msg, sig, pubkeyBytes []byte) bool {
	if len(pubkeyBytes) != mode2.PublicKeySize {
		return false
	}
	var pk mode2.PublicKey
	pk.Unpack(pubkeyBytes)
	return mode2.Verify(&pk, msg, sig)
}

// Extensions returns the crypto host extension table, ready to merge into
// host.Settings.Extensions.
func Extensions() map[string]value.Value {
	return map[string]value.Value{
		"sha3": &value.NativeFunc{Name: "sha3", Fn: func(args []value.Value) ([]value.Value, error) {
			s, ok := args[0].(value.String)
			if !ok {
				return nil, value.ErrNotIndexable
			}
			sum := Hash([]byte(s))
			return []value.Value{value.String(sum[:])}, nil
		}},
		"shake256": &value.NativeFunc{Name: "shake256", Fn: func(args []value.Value) ([]value.Value, error) {
			s := args[0].(value.String)
			n := int(args[1].(value.Number))
			return []value.Value{value.String(Shake256([]byte(s), n))}, nil
		}},
	}
}
