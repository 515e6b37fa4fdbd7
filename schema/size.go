// Copyright (c) 2026 BinSchema Authors
// SPDX-License-Identifier: MIT

package schema

// calculateSize returns the number of bytes field would occupy if value
// were encoded right now, by performing a throwaway encode into a
// discard sink: rather than maintaining a parallel no-emit size walk, we
// reuse the single encoder and measure what it produced.
func calculateSize(ctx *Context, field *Field, value any) (int, error) {
	w := NewWriter()
	if field.BitOrder != "" {
		w.SetBitOrder(field.BitOrder)
	}
	if err := encodeField(ctx, field, value, w); err != nil {
		return 0, err
	}
	return len(w.Bytes()), nil
}

// CalculateSize returns the number of bytes value would occupy if
// encoded against s right now, without requiring the caller to keep a
// separately maintained byte count in sync with Encode. By construction
// CalculateSize(s, v) == len(Encode(s, v)) for every valid v.
func CalculateSize(s *Schema, value map[string]any) (int, error) {
	if _, ok := s.Types[s.Root]; !ok {
		return 0, newErr(KindSchemaInvalid, "root", "root type %q not found", s.Root)
	}
	ctx := NewContext(s, value)
	root := &Field{Kind: KindTypeRef, TypeName: s.Root, Path: "root"}
	return calculateSize(ctx, root, value)
}
