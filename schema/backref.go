// Copyright (c) 2026 BinSchema Authors
// SPDX-License-Identifier: MIT

package schema

// encodeBackRefField implements spec.md §3.7's compression-pointer
// protocol: the first time a given target value is encoded, its bytes
// are written inline and recorded in ctx.BackRefs keyed by their
// canonical encoding; every subsequent occurrence of an equal value is
// replaced by a pointer into the first occurrence's offset, tagged with
// the bits OffsetMask leaves free.
func encodeBackRefField(ctx *Context, f *Field, value any, w *Writer) error {
	canonical, err := canonicalBytes(ctx, f.BackRef.Target, value)
	if err != nil {
		return err
	}
	if offset, ok := ctx.BackRefs.lookup(string(canonical)); ok {
		raw := offset
		if f.BackRef.OffsetFrom == BackRefFromCurrentPosition {
			raw = w.ByteOffset() - offset
		}
		flagBits := (^f.BackRef.OffsetMask) & ((uint64(1) << uint(f.BackRef.StorageBits)) - 1)
		ptr := (uint64(raw) & f.BackRef.OffsetMask) | flagBits
		return w.WriteUint(ptr, f.BackRef.StorageBits/8, ctx.Schema.Endian)
	}
	offset := w.ByteOffset()
	ctx.BackRefs.record(string(canonical), offset)
	return encodeField(ctx, f.BackRef.Target, value, w)
}

// canonicalBytes encodes value the way it would be written inline, used
// as the back-reference dictionary key so repeated values (regardless of
// where they first appeared) are recognized as duplicates.
func canonicalBytes(ctx *Context, target *Field, value any) ([]byte, error) {
	w := NewWriter()
	w.SetBitOrder(ctx.Schema.BitOrder)
	if err := encodeField(ctx, target, value, w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// decodeBackRefField peeks the pointer-flag bits before consuming
// anything: if set, it follows the pointer (with a visited-offset guard
// against cycles per spec.md's CircularReference error kind); otherwise
// it decodes the target inline at the current position.
func decodeBackRefField(ctx *Context, f *Field, r *Reader) (any, error) {
	width := f.BackRef.StorageBits / 8
	peeked, err := r.Peek(width)
	if err != nil {
		return nil, err
	}
	val := getUint(peeked, ctx.Schema.Endian)
	flagMask := (^f.BackRef.OffsetMask) & ((uint64(1) << uint(f.BackRef.StorageBits)) - 1)

	if flagMask != 0 && (val&flagMask) == flagMask {
		anchor := r.Position()
		if _, err := r.ReadUint(width, ctx.Schema.Endian); err != nil {
			return nil, err
		}
		raw := int(val & f.BackRef.OffsetMask)
		offset := raw
		if f.BackRef.OffsetFrom == BackRefFromCurrentPosition {
			offset = anchor - raw
		}
		if !ctx.BackRefs.enter(offset) {
			return nil, newErr(KindCircularReference, f.Path, "back_reference cycle detected at offset %d", offset)
		}
		defer ctx.BackRefs.leave(offset)

		r.PushPosition()
		if err := r.Seek(offset); err != nil {
			r.PopPosition()
			return nil, err
		}
		v, err := decodeField(ctx, f.BackRef.Target, r)
		if popErr := r.PopPosition(); popErr != nil && err == nil {
			err = popErr
		}
		return v, err
	}

	return decodeField(ctx, f.BackRef.Target, r)
}
