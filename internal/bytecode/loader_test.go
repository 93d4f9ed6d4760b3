package bytecode

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// testBuf is a tiny hand-rolled byte-buffer builder mirroring the wire
// primitives internal/bitstream reads, used to hand-craft minimal modules
// for the loader tests below.
type testBuf struct {
	buf bytes.Buffer
}

func (b *testBuf) u8(v uint8)    { b.buf.WriteByte(v) }
func (b *testBuf) boolean(v bool) {
	if v {
		b.u8(1)
	} else {
		b.u8(0)
	}
}
func (b *testBuf) u32le(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.buf.Write(tmp[:])
}
func (b *testBuf) varint(v uint32) {
	for {
		x := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			b.buf.WriteByte(x | 0x80)
		} else {
			b.buf.WriteByte(x)
			return
		}
	}
}
func (b *testBuf) str(s string) {
	b.varint(uint32(len(s)))
	b.buf.WriteString(s)
}
func (b *testBuf) bytes() []byte { return b.buf.Bytes() }

// buildMinimalModule hand-assembles a version-3 module with a single
// prototype: LOADN r0, 42; RETURN r0, 1.
func buildMinimalModule(t *testing.T) []byte {
	t.Helper()
	b := &testBuf{}
	b.u8(3) // version, no types_version byte (version < 4)

	// string table: index 0 reserved, index 1 = "main"
	b.varint(1)
	b.str("main")

	// proto count
	b.varint(1)

	// --- prototype 0 ---
	b.u8(2) // max_stack_size
	b.u8(0) // num_params
	b.u8(0) // num_upvalues
	b.boolean(false) // is_vararg

	// code: size_code = 2
	b.varint(2)
	loadN := uint32(OpLoadN) | uint32(0)<<8 | uint32(42)<<16 // A=0, D=42
	b.u32le(loadN)
	ret := uint32(OpReturn) | uint32(0)<<8 | uint32(2)<<16 // A=0, B=2 (one result)
	b.u32le(ret)

	// constants: size_k = 0
	b.varint(0)

	// proto refs: size_p = 0
	b.varint(0)

	b.varint(1) // line_defined
	b.varint(1) // debug_name_index -> strings[1] == "main"

	b.boolean(false) // line_info_enabled
	b.boolean(false) // debug_info_present

	b.varint(0) // main proto id

	return b.bytes()
}

func TestLoadMinimalModule(t *testing.T) {
	mod, err := Load(buildMinimalModule(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if mod.MainProtoID != 0 {
		t.Fatalf("MainProtoID = %d, want 0", mod.MainProtoID)
	}
	main := mod.MainProto()
	if main.DebugName != "main" {
		t.Fatalf("DebugName = %q, want %q", main.DebugName, "main")
	}
	if main.MaxStackSize != 2 {
		t.Fatalf("MaxStackSize = %d, want 2", main.MaxStackSize)
	}
	if len(main.Code) != 2 {
		t.Fatalf("len(Code) = %d, want 2", len(main.Code))
	}
	if main.Code[0].Op != OpLoadN || main.Code[0].D != 42 {
		t.Fatalf("Code[0] = %+v, want LOADN with D=42", main.Code[0])
	}
	if main.Code[1].Op != OpReturn || main.Code[1].B != 2 {
		t.Fatalf("Code[1] = %+v, want RETURN with B=2", main.Code[1])
	}
}

func TestLoadUnsupportedVersion(t *testing.T) {
	buf := []byte{99}
	if _, err := Load(buf); err == nil {
		t.Fatal("expected error for out-of-range version")
	}
}

func TestLoadShortBuffer(t *testing.T) {
	if _, err := Load(nil); err == nil {
		t.Fatal("expected error for empty buffer")
	}
}

func TestLoadMalformedConstantTag(t *testing.T) {
	b := &testBuf{}
	b.u8(3)
	b.varint(0) // empty string table
	b.varint(1) // one prototype

	b.u8(1) // max_stack_size
	b.u8(0)
	b.u8(0)
	b.boolean(false)

	b.varint(0) // size_code = 0 (no instructions)

	b.varint(1)  // size_k = 1
	b.u8(0xEE)   // bogus constant tag

	if _, err := Load(b.bytes()); err == nil {
		t.Fatal("expected malformed-constant error")
	}
}
