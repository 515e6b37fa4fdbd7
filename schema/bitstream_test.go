// Copyright (c) 2026 BinSchema Authors
// SPDX-License-Identifier: MIT

package schema

import (
	"bytes"
	"testing"
)

func TestReadUint(t *testing.T) {
	tests := []struct {
		name   string
		data   []byte
		endian Endianness
		width  int
		want   uint64
	}{
		{"uint8", []byte{0xff}, BigEndian, 1, 255},
		{"uint16 big", []byte{0x01, 0x00}, BigEndian, 2, 256},
		{"uint16 little", []byte{0x00, 0x01}, LittleEndian, 2, 256},
		{"uint32 big", []byte{0x00, 0x01, 0x00, 0x00}, BigEndian, 4, 65536},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(tt.data)
			got, err := r.ReadUint(tt.width, tt.endian)
			if err != nil {
				t.Fatalf("ReadUint() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ReadUint() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestReadInt(t *testing.T) {
	tests := []struct {
		name  string
		data  []byte
		width int
		want  int64
	}{
		{"positive", []byte{0x7f}, 1, 127},
		{"negative byte", []byte{0xff}, 1, -1},
		{"negative short", []byte{0xff, 0xfe}, 2, -2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(tt.data)
			got, err := r.ReadInt(tt.width, BigEndian)
			if err != nil {
				t.Fatalf("ReadInt() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ReadInt() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestReadBitsMSBFirst(t *testing.T) {
	// 0xB4 = 0b10110100
	data := []byte{0xB4}

	tests := []struct {
		name string
		skip int
		bits int
		want uint64
	}{
		{"high 2 bits", 0, 2, 2},
		{"mid 4 bits", 2, 4, 13},
		{"low 2 bits", 6, 2, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(data)
			if tt.skip > 0 {
				if _, err := r.ReadBits(tt.skip); err != nil {
					t.Fatalf("skip error = %v", err)
				}
			}
			got, err := r.ReadBits(tt.bits)
			if err != nil {
				t.Fatalf("ReadBits() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ReadBits() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestReadBitsLSBFirst(t *testing.T) {
	// 0xB4 = 0b10110100, LSB-first: bit 0 is the lowest-order bit
	data := []byte{0xB4}
	r := NewReader(data)
	r.SetBitOrder(LSBFirst)

	got, err := r.ReadBits(4)
	if err != nil {
		t.Fatalf("ReadBits() error = %v", err)
	}
	if want := uint64(0x4); got != want {
		t.Errorf("ReadBits() low nibble = %#x, want %#x", got, want)
	}
	got, err = r.ReadBits(4)
	if err != nil {
		t.Fatalf("ReadBits() error = %v", err)
	}
	if want := uint64(0xB); got != want {
		t.Errorf("ReadBits() high nibble = %#x, want %#x", got, want)
	}
}

func TestWriteBitsRoundTrip(t *testing.T) {
	w := NewWriter()
	if err := w.WriteBits(0b10, 2); err != nil {
		t.Fatalf("WriteBits() error = %v", err)
	}
	if err := w.WriteBits(0b1101, 4); err != nil {
		t.Fatalf("WriteBits() error = %v", err)
	}
	if err := w.WriteBits(0b00, 2); err != nil {
		t.Fatalf("WriteBits() error = %v", err)
	}
	got := w.Bytes()
	if len(got) != 1 || got[0] != 0xB4 {
		t.Errorf("WriteBits() packed = %#x, want 0xb4", got)
	}
}

func TestWriteUintRoundTrip(t *testing.T) {
	w := NewWriter()
	if err := w.WriteUint(65536, 4, BigEndian); err != nil {
		t.Fatalf("WriteUint() error = %v", err)
	}
	r := NewReader(w.Bytes())
	got, err := r.ReadUint(4, BigEndian)
	if err != nil {
		t.Fatalf("ReadUint() error = %v", err)
	}
	if got != 65536 {
		t.Errorf("round trip = %d, want 65536", got)
	}
}

func TestReadAtNegativePosition(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5}
	r := NewReader(data)
	got, err := r.ReadAt(-2, 2)
	if err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}
	if got[0] != 4 || got[1] != 5 {
		t.Errorf("ReadAt(-2, 2) = %v, want [4 5]", got)
	}
}

func TestReadAtBoundsExceeded(t *testing.T) {
	data := []byte{1, 2, 3}
	r := NewReader(data)
	_, err := r.ReadAt(2, 5)
	if !IsKind(err, KindBoundsExceeded) {
		t.Fatalf("expected BoundsExceeded, got %v", err)
	}
}

func TestPushPopPosition(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	r := NewReader(data)
	if _, err := r.ReadUint(1, BigEndian); err != nil {
		t.Fatalf("ReadUint() error = %v", err)
	}
	r.PushPosition()
	if err := r.Seek(3); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	if err := r.PopPosition(); err != nil {
		t.Fatalf("PopPosition() error = %v", err)
	}
	if r.Position() != 1 {
		t.Errorf("Position() after pop = %d, want 1", r.Position())
	}
}

func TestWriteAtPatchesWithoutMovingCursor(t *testing.T) {
	w := NewWriter()
	if err := w.Write([]byte{0, 0, 0xAA, 0xBB}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.WriteAt(0, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("WriteAt() error = %v", err)
	}
	want := []byte{0x01, 0x02, 0xAA, 0xBB}
	got := w.Bytes()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("byte %d = %#x, want %#x", i, got[i], want[i])
		}
	}
	if w.ByteOffset() != 4 {
		t.Errorf("ByteOffset() after WriteAt = %d, want 4 (cursor unchanged)", w.ByteOffset())
	}
}

func TestStreamReaderSequentialNeverBuffers(t *testing.T) {
	src := bytes.NewReader([]byte{0x01, 0x02, 0x00, 0x2A})
	r := NewStreamReader(src)

	if r.Size() != -1 {
		t.Fatalf("Size() before drain = %d, want -1", r.Size())
	}
	got, err := r.ReadUint(2, BigEndian)
	if err != nil {
		t.Fatalf("ReadUint() error = %v", err)
	}
	if got != 0x0102 {
		t.Errorf("ReadUint() = %#x, want 0x0102", got)
	}
	if r.Size() != -1 {
		t.Fatalf("Size() after a sequential read still short of EOF = %d, want -1", r.Size())
	}
	if len(r.Warnings()) != 0 {
		t.Errorf("Warnings() after purely sequential reads = %v, want none", r.Warnings())
	}

	got, err = r.ReadUint(2, BigEndian)
	if err != nil {
		t.Fatalf("ReadUint() error = %v", err)
	}
	if got != 0x002A {
		t.Errorf("ReadUint() = %#x, want 0x002a", got)
	}
	// All four bytes are consumed, but only a read that meets end of
	// input marks the source exhausted.
	if _, err := r.ReadUint(1, BigEndian); !IsKind(err, KindBoundsExceeded) {
		t.Fatalf("ReadUint() past the end error = %v, want KindBoundsExceeded", err)
	}
	if r.Size() != 4 {
		t.Errorf("Size() once the source is exhausted = %d, want 4", r.Size())
	}
}

func TestStreamReaderRandomAccessForcesBufferingAndWarns(t *testing.T) {
	src := bytes.NewReader([]byte{0x10, 0x20, 0x30, 0x40})
	r := NewStreamReader(src)

	b, err := r.ReadByteAt(2)
	if err != nil {
		t.Fatalf("ReadByteAt() error = %v", err)
	}
	if b != 0x30 {
		t.Errorf("ReadByteAt(2) = %#x, want 0x30", b)
	}
	if r.Size() != 4 {
		t.Errorf("Size() after forced buffering = %d, want 4", r.Size())
	}
	if len(r.Warnings()) != 1 {
		t.Fatalf("Warnings() after one random access = %v, want exactly one", r.Warnings())
	}

	if _, err := r.ReadByteAt(0); err != nil {
		t.Fatalf("second ReadByteAt() error = %v", err)
	}
	if len(r.Warnings()) != 1 {
		t.Errorf("Warnings() after a second random access = %v, want still exactly one", r.Warnings())
	}
}

func TestStreamReaderWithoutBufferingFallbackFailsNotSeekable(t *testing.T) {
	src := bytes.NewReader([]byte{0x10, 0x20, 0x30, 0x40})
	r := NewStreamReader(src)
	r.SetAllowNonSeekableBuffering(false)

	_, err := r.ReadByteAt(1)
	if !IsKind(err, KindNotSeekable) {
		t.Fatalf("ReadByteAt() error = %v, want KindNotSeekable", err)
	}

	// Sequential access is unaffected by disabling the buffering fallback.
	got, err := r.ReadUint(2, BigEndian)
	if err != nil {
		t.Fatalf("ReadUint() error = %v", err)
	}
	if got != 0x1020 {
		t.Errorf("ReadUint() = %#x, want 0x1020", got)
	}
}
