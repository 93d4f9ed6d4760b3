package bitstream

import "testing"

func TestReadVarint(t *testing.T) {
	cases := []struct {
		name string
		buf  []byte
		want uint32
	}{
		{"zero", []byte{0x00}, 0},
		{"single byte", []byte{0x7F}, 0x7F},
		{"two bytes", []byte{0x80, 0x01}, 0x80},
		{"three bytes", []byte{0xFF, 0xFF, 0x03}, 0xFFFF},
		{"max width", []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x0F}, 0xFFFFFFFF},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := New(c.buf)
			got, err := r.ReadVarint()
			if err != nil {
				t.Fatalf("ReadVarint: %v", err)
			}
			if got != c.want {
				t.Fatalf("got %d, want %d", got, c.want)
			}
			if r.Len() != 0 {
				t.Fatalf("expected cursor to consume entire buffer, %d bytes left", r.Len())
			}
		})
	}
}

func TestReadVarintOverflow(t *testing.T) {
	r := New([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01})
	if _, err := r.ReadVarint(); err != ErrVarintOverflow {
		t.Fatalf("got %v, want ErrVarintOverflow", err)
	}
}

func TestReadVarintShortBuffer(t *testing.T) {
	r := New([]byte{0x80})
	if _, err := r.ReadVarint(); err != ErrShortBuffer {
		t.Fatalf("got %v, want ErrShortBuffer", err)
	}
}

func TestReadU8AndBool(t *testing.T) {
	r := New([]byte{0x00, 0x01, 0x2A})
	if b, err := r.ReadBool(); err != nil || b != false {
		t.Fatalf("ReadBool #1 = %v, %v", b, err)
	}
	if b, err := r.ReadBool(); err != nil || b != true {
		t.Fatalf("ReadBool #2 = %v, %v", b, err)
	}
	v, err := r.ReadU8()
	if err != nil || v != 0x2A {
		t.Fatalf("ReadU8 = %v, %v", v, err)
	}
}

func TestReadU32LEAndFloats(t *testing.T) {
	// 1.0f in IEEE-754 little-endian
	r := New([]byte{0x00, 0x00, 0x80, 0x3F})
	f, err := r.ReadF32()
	if err != nil {
		t.Fatalf("ReadF32: %v", err)
	}
	if f != 1.0 {
		t.Fatalf("got %v, want 1.0", f)
	}

	r2 := New([]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xF0, 0x3F})
	d, err := r2.ReadF64()
	if err != nil {
		t.Fatalf("ReadF64: %v", err)
	}
	if d != 1.0 {
		t.Fatalf("got %v, want 1.0", d)
	}
}

func TestReadStringAndSkip(t *testing.T) {
	r := New([]byte("hello!!!"))
	s, err := r.ReadString(5)
	if err != nil || s != "hello" {
		t.Fatalf("ReadString = %q, %v", s, err)
	}
	if err := r.Skip(2); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	if r.Len() != 1 {
		t.Fatalf("got %d bytes left, want 1", r.Len())
	}
}

func TestRequireShortBuffer(t *testing.T) {
	r := New([]byte{0x01, 0x02})
	if _, err := r.ReadString(10); err != ErrShortBuffer {
		t.Fatalf("got %v, want ErrShortBuffer", err)
	}
	if _, err := r.ReadBytes(10); err != ErrShortBuffer {
		t.Fatalf("got %v, want ErrShortBuffer", err)
	}
}
