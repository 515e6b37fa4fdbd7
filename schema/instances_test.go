// Copyright (c) 2026 BinSchema Authors
// SPDX-License-Identifier: MIT

package schema

import "testing"

func TestInstanceLazyDecodeAndRestorePosition(t *testing.T) {
	s := &Schema{
		Endian: BigEndian, BitOrder: MSBFirst, Root: "packet",
		Types: map[string]*TypeDef{
			"packet": {
				Fields: []*Field{
					{Name: "header", Kind: KindBit, Bits: 8},
				},
				Instances: []*Instance{
					{Name: "extra", Position: "4", Type: &Field{Kind: KindBit, Bits: 8}},
				},
			},
		},
	}

	data := []byte{0xAA, 0, 0, 0, 0x42}
	decoded, err := Decode(s, data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	set, ok := decoded["instances"].(*InstanceSet)
	if !ok {
		t.Fatalf("decoded[instances] = %T, want *InstanceSet", decoded["instances"])
	}

	names := set.Names()
	if len(names) != 1 || names[0] != "extra" {
		t.Errorf("Names() = %v, want [extra]", names)
	}

	v, err := set.Get("extra")
	if err != nil {
		t.Fatalf("Get(extra) error = %v", err)
	}
	if mustUint64(t, v) != 0x42 {
		t.Errorf("Get(extra) = %v, want 0x42", v)
	}

	// Resolving the instance must leave the reader where the main decode
	// left it, just past the one-byte header.
	if got := set.r.Position(); got != 1 {
		t.Errorf("reader position after Get(extra) = %d, want 1", got)
	}

	// A second Get returns the cached value.
	again, err := set.Get("extra")
	if err != nil {
		t.Fatalf("Get(extra) second call error = %v", err)
	}
	if mustUint64(t, again) != 0x42 {
		t.Errorf("Get(extra) second call = %v, want 0x42", again)
	}
}

// TestInstanceNegativePositionFromEnd exercises spec.md §3.5's
// from-end-of-buffer convention for a negative instance position.
func TestInstanceNegativePositionFromEnd(t *testing.T) {
	s := &Schema{
		Endian: BigEndian, BitOrder: MSBFirst, Root: "packet",
		Types: map[string]*TypeDef{
			"packet": {
				Fields: []*Field{
					{Name: "header", Kind: KindBit, Bits: 8},
				},
				Instances: []*Instance{
					{Name: "trailer", Position: "-1", Type: &Field{Kind: KindBit, Bits: 8}},
				},
			},
		},
	}

	data := []byte{0xAA, 0, 0, 0, 0x42}
	decoded, err := Decode(s, data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	set := decoded["instances"].(*InstanceSet)

	v, err := set.Get("trailer")
	if err != nil {
		t.Fatalf("Get(trailer) error = %v", err)
	}
	if mustUint64(t, v) != 0x42 {
		t.Errorf("Get(trailer) = %v, want the last byte 0x42", v)
	}
}

func TestInstanceUnknownNameErrors(t *testing.T) {
	s := &Schema{
		Endian: BigEndian, BitOrder: MSBFirst, Root: "packet",
		Types: map[string]*TypeDef{
			"packet": {
				Fields:    []*Field{{Name: "header", Kind: KindBit, Bits: 8}},
				Instances: []*Instance{{Name: "extra", Position: "1", Type: &Field{Kind: KindBit, Bits: 8}}},
			},
		},
	}
	decoded, err := Decode(s, []byte{0, 0})
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	set := decoded["instances"].(*InstanceSet)
	if _, err := set.Get("missing"); err == nil {
		t.Error("expected an error for an undeclared instance name")
	}
}
