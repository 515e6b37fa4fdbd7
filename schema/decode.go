// Copyright (c) 2026 BinSchema Authors
// SPDX-License-Identifier: MIT

package schema

import (
	"fmt"
	"io"
)

// Decode parses data according to s, returning a map[string]any keyed by
// s.Root's field names.
func Decode(s *Schema, data []byte) (map[string]any, error) {
	td, ok := s.Types[s.Root]
	if !ok {
		return nil, newErr(KindSchemaInvalid, "root", "root type %q not found", s.Root)
	}
	r := NewReader(data)
	r.SetBitOrder(s.BitOrder)
	ctx := NewContext(s, nil)
	v, err := decodeType(ctx, td, r)
	if err != nil {
		return nil, err
	}
	ctx.Root = v
	return v, nil
}

// DecodeStream is Decode for a non-seekable source such as a network
// socket: bytes are pulled from src lazily as sequential fields consume
// them, and an eof_terminated array looks one byte ahead to tell whether
// src has more. The fields that read by absolute position, and so count
// as random access on such a source, are back_reference fields,
// instances, byte_budget unions, byte_length_prefixed arrays and fixed,
// length_prefixed and field_referenced strings; a schema without them
// decodes without buffering src past that one-byte lookahead. On the
// first random access, s.Config.NonSeekableBuffer decides what happens:
// true (the default)
// drains and buffers the remainder of src once, recording a warning
// retrievable from the returned Reader via Warnings; false fails that
// access immediately with KindNotSeekable.
func DecodeStream(s *Schema, src io.Reader) (map[string]any, *Reader, error) {
	td, ok := s.Types[s.Root]
	if !ok {
		return nil, nil, newErr(KindSchemaInvalid, "root", "root type %q not found", s.Root)
	}
	r := NewStreamReader(src)
	r.SetBitOrder(s.BitOrder)
	r.SetAllowNonSeekableBuffering(s.Config.NonSeekableBuffer)
	ctx := NewContext(s, nil)
	v, err := decodeType(ctx, td, r)
	if err != nil {
		return nil, r, err
	}
	ctx.Root = v
	return v, r, nil
}

// decodeType reads every field of td in declaration order into a
// map[string]any. A crc32_of computed field is surfaced as a value like
// any other computed field, not verified automatically: per spec.md
// §4.E.2.c, checking it against the bytes it covers is the caller's
// concern, not a wire-integrity check this package enforces on every
// decode.
func decodeType(ctx *Context, td *TypeDef, r *Reader) (map[string]any, error) {
	out := make(map[string]any)
	scope := newFieldScope()
	childCtx := ctx.Child(out)
	childCtx.setLocalScope(scope)

	for _, f := range td.Fields {
		if f.Kind == KindComputed {
			start := r.Position()
			raw, err := r.ReadUint(f.Computed.Width/8, ctx.Schema.Endian)
			if err != nil {
				return nil, wrapErr(KindDecodingError, f.Path, err, "reading computed field %q", f.Name)
			}
			end := r.Position()
			if f.Name != "" {
				out[f.Name] = bigFromUint(raw)
				childCtx.recordSpan(f.Name, fieldSpan{start: start, end: end})
				childCtx.recordValue(f.Name, bigFromUint(raw))
			}
			continue
		}

		if f.Condition != "" && !evalConditional(f.Condition, childCtx) {
			continue
		}

		start := r.Position()
		v, err := decodeField(childCtx, f, r)
		if err != nil {
			return nil, wrapErr(KindDecodingError, f.Path, err, "decoding field %q", f.Name)
		}
		end := r.Position()
		if f.Name != "" {
			out[f.Name] = v
			childCtx.recordSpan(f.Name, fieldSpan{start: start, end: end})
			childCtx.recordValue(f.Name, v)
		}
	}

	if len(td.Instances) > 0 {
		out["instances"] = newInstanceSet(r, childCtx, td.Instances)
	}

	return out, nil
}

func decodeField(ctx *Context, f *Field, r *Reader) (any, error) {
	switch f.Kind {
	case KindBit:
		return decodeBitField(f, r)
	case KindBitfield:
		return decodeBitfieldContainer(f, r)
	case KindString:
		return decodeStringField(ctx, f, r)
	case KindArray:
		return decodeArrayField(ctx, f, r)
	case KindVarlength:
		return decodeVarlengthField(f, r)
	case KindTypeRef:
		return decodeTypeRefField(ctx, f, r)
	case KindChoice:
		return decodeChoiceField(ctx, f, r)
	case KindUnion:
		return decodeUnionField(ctx, f, r)
	case KindBackRef:
		return decodeBackRefField(ctx, f, r)
	case KindOptional:
		return decodeOptionalField(ctx, f, r)
	default:
		return nil, newErr(KindDecodingError, f.Path, "field kind %q cannot appear as a direct value", f.Kind)
	}
}

func decodeBitField(f *Field, r *Reader) (any, error) {
	if f.Float {
		return r.ReadFloat(f.Bits/8, f.Endian)
	}
	if f.Bits%8 == 0 {
		if f.Signed {
			iv, err := r.ReadInt(f.Bits/8, f.Endian)
			if err != nil {
				return nil, err
			}
			return bigFromInt(iv), nil
		}
		uv, err := r.ReadUint(f.Bits/8, f.Endian)
		if err != nil {
			return nil, err
		}
		return bigFromUint(uv), nil
	}
	return r.ReadBitsBig(f.Bits)
}

func decodeBitfieldContainer(f *Field, r *Reader) (any, error) {
	out := make(map[string]any)
	for _, sub := range f.SubFields {
		v, err := r.ReadBits(sub.Bits)
		if err != nil {
			return nil, wrapErr(KindDecodingError, sub.Path, err, "decoding bitfield sub-field %q", sub.Name)
		}
		out[sub.Name] = bigFromUint(v)
	}
	return out, nil
}

func decodeStringField(ctx *Context, f *Field, r *Reader) (any, error) {
	switch f.StringMode {
	case StringFixed:
		buf, err := r.ReadAt(r.Position(), f.FixedLength)
		if err != nil {
			return nil, err
		}
		if err := r.Seek(r.Position() + f.FixedLength); err != nil {
			return nil, err
		}
		return trimNulls(buf), nil

	case StringLengthPrefixed:
		n, err := r.ReadUint(f.Bits/8, ctx.Schema.Endian)
		if err != nil {
			return nil, err
		}
		buf, err := r.ReadAt(r.Position(), int(n))
		if err != nil {
			return nil, err
		}
		if err := r.Seek(r.Position() + int(n)); err != nil {
			return nil, err
		}
		return string(buf), nil

	case StringFieldRef:
		n, err := resolveFieldLength(ctx, f.LengthField)
		if err != nil {
			return nil, err
		}
		buf, err := r.ReadAt(r.Position(), n)
		if err != nil {
			return nil, err
		}
		if err := r.Seek(r.Position() + n); err != nil {
			return nil, err
		}
		return string(buf), nil

	case StringDelimited:
		var out []byte
		for {
			b, err := r.ReadUint(1, BigEndian)
			if err != nil {
				return nil, err
			}
			if byte(b) == f.Delimiter {
				break
			}
			out = append(out, byte(b))
		}
		return string(out), nil

	default:
		return nil, newErr(KindDecodingError, f.Path, "unknown string mode %q", f.StringMode)
	}
}

func resolveFieldLength(ctx *Context, fieldName string) (int, error) {
	v, err := ctx.Resolve(fieldName)
	if err != nil {
		return 0, err
	}
	u, err := asUint64(v)
	if err != nil {
		return 0, err
	}
	return int(u), nil
}

func trimNulls(buf []byte) string {
	end := len(buf)
	for end > 0 && buf[end-1] == 0 {
		end--
	}
	return string(buf[:end])
}

func decodeArrayField(ctx *Context, f *Field, r *Reader) (any, error) {
	iter := newArrayIteration()
	ctx.ArrayIterations[f.Name] = iter

	var out []any
	var err error
	switch f.ArrayMode {
	case ArrayFixedCount:
		out, err = decodeArrayElements(ctx, f, iter, r, f.Count)

	case ArrayFieldRef:
		var n int
		n, err = resolveFieldLength(ctx, f.CountField)
		if err == nil {
			out, err = decodeArrayElements(ctx, f, iter, r, n)
		}

	case ArrayLengthPrefixed:
		var n uint64
		n, err = r.ReadUint(f.PrefixBits/8, ctx.Schema.Endian)
		if err == nil {
			out, err = decodeArrayElements(ctx, f, iter, r, int(n))
		}

	case ArrayByteLengthPrefixed:
		var n uint64
		n, err = r.ReadUint(f.PrefixBits/8, ctx.Schema.Endian)
		if err != nil {
			break
		}
		var region []byte
		region, err = r.ReadAt(r.Position(), int(n))
		if err != nil {
			break
		}
		sub := NewReader(region)
		sub.SetBitOrder(r.bitOrder)
		out, err = decodeArrayUntilEOF(ctx, f, iter, sub)
		if err == nil {
			err = r.Seek(r.Position() + int(n))
		}

	case ArrayEOFTerminated:
		out, err = decodeArrayUntilEOF(ctx, f, iter, r)

	default:
		return nil, newErr(KindDecodingError, f.Path, "unknown array mode %q", f.ArrayMode)
	}
	if err != nil {
		return nil, err
	}

	if out == nil {
		out = []any{}
	}
	return out, nil
}

// decodeArrayElements decodes exactly n elements, recording iteration
// state and each element's own byte span (keyed "name[i]").
func decodeArrayElements(ctx *Context, f *Field, iter *ArrayIteration, r *Reader, n int) ([]any, error) {
	out := make([]any, 0, n)
	for i := 0; i < n; i++ {
		iter.Index = i
		start := r.Position()
		v, err := decodeField(ctx, f.ElementType, r)
		if err != nil {
			return nil, wrapErr(KindDecodingError, f.ElementType.Path, err, "decoding element %d of %q", i, f.Name)
		}
		end := r.Position()
		iter.record(elementTypeName(f.ElementType, v), i)
		ctx.recordSpan(fmt.Sprintf("%s[%d]", f.Name, i), fieldSpan{start: start, end: end})
		out = append(out, v)
	}
	return out, nil
}

// decodeArrayUntilEOF decodes elements until r is exhausted, used both
// by eof_terminated arrays and by byte_length_prefixed arrays (which
// bound "EOF" to a sub-reader over exactly the prefixed byte count).
func decodeArrayUntilEOF(ctx *Context, f *Field, iter *ArrayIteration, r *Reader) ([]any, error) {
	var out []any
	i := 0
	for r.Remaining() > 0 {
		iter.Index = i
		start := r.Position()
		v, err := decodeField(ctx, f.ElementType, r)
		if err != nil {
			return nil, wrapErr(KindDecodingError, f.ElementType.Path, err, "decoding element %d of %q", i, f.Name)
		}
		end := r.Position()
		iter.record(elementTypeName(f.ElementType, v), i)
		ctx.recordSpan(fmt.Sprintf("%s[%d]", f.Name, i), fieldSpan{start: start, end: end})
		out = append(out, v)
		i++
	}
	return out, nil
}

func decodeVarlengthField(f *Field, r *Reader) (any, error) {
	v, err := decodeVarint(f.VarintKind, r)
	if err != nil {
		return nil, err
	}
	return bigFromUint(v), nil
}

func decodeTypeRefField(ctx *Context, f *Field, r *Reader) (any, error) {
	td, ok := ctx.Schema.Types[f.TypeName]
	if !ok {
		return nil, newErr(KindSchemaInvalid, f.Path, "referenced type %q not found", f.TypeName)
	}
	return decodeType(ctx, td, r)
}

// decodeChoiceField implements Inline Choice (spec.md §3.3/§4.E.6): it
// non-destructively peeks the shared discriminator width that every
// candidate's first field declares as a const, matches it against each
// candidate in order, then fully decodes the winning candidate — which
// re-reads that same discriminator for real, as an ordinary field, since
// no separate wire tag exists for a choice.
func decodeChoiceField(ctx *Context, f *Field, r *Reader) (any, error) {
	if len(f.Choices) == 0 {
		return nil, newErr(KindDecodingError, f.Path, "choice field has no candidates")
	}
	first, err := choiceDiscriminatorField(ctx, f.Choices[0])
	if err != nil {
		return nil, err
	}
	peeked, err := peekDiscriminator(r, first.Bits, first.Endian)
	if err != nil {
		return nil, err
	}
	for _, candidate := range f.Choices {
		disc, err := choiceDiscriminatorField(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if disc == nil || disc.Const == nil {
			continue
		}
		if disc.Const.Uint64() != peeked {
			continue
		}
		v, err := decodeField(ctx, candidate, r)
		if err != nil {
			return nil, err
		}
		tagChoiceValue(v, candidate)
		return v, nil
	}
	return nil, newErr(KindDecodingError, f.Path, "no choice candidate matches peeked discriminator %#x", peeked)
}

// choiceDiscriminatorField resolves a choice candidate (a type_ref) down
// to the const-valued first field every candidate shares.
func choiceDiscriminatorField(ctx *Context, candidate *Field) (*Field, error) {
	if candidate.Kind != KindTypeRef {
		return nil, newErr(KindSchemaInvalid, candidate.Path, "choice candidate must be a type_ref")
	}
	td, ok := ctx.Schema.Types[candidate.TypeName]
	if !ok {
		return nil, newErr(KindSchemaInvalid, candidate.Path, "referenced type %q not found", candidate.TypeName)
	}
	if len(td.Fields) == 0 {
		return nil, newErr(KindSchemaInvalid, candidate.Path, "choice candidate type %q has no fields", candidate.TypeName)
	}
	return td.Fields[0], nil
}

func tagChoiceValue(v any, candidate *Field) {
	m, ok := v.(map[string]any)
	if !ok {
		return
	}
	if _, has := m["type"]; !has {
		m["type"] = candidate.TypeName
	}
}

func decodeUnionField(ctx *Context, f *Field, r *Reader) (any, error) {
	var discriminator uint64
	var err error
	if f.Union.DiscriminatorField != "" {
		discriminator, err = discriminatorFromField(ctx, f.Union.DiscriminatorField)
	} else {
		discriminator, err = peekDiscriminator(r, f.Union.DiscriminatorPeekBits, f.Union.Endian)
	}
	if err != nil {
		return nil, err
	}

	var budget int
	hasBudget := f.Union.ByteBudgetField != ""
	if hasBudget {
		budget, err = resolveFieldLength(ctx, f.Union.ByteBudgetField)
		if err != nil {
			return nil, err
		}
	}

	var matched *UnionVariant
	var fallback *UnionVariant
	for _, variant := range f.Union.Variants {
		if variant.Fallback {
			fallback = variant
			continue
		}
		v, err := evalExprUintConst(variant.When, discriminator)
		if err == nil && v {
			matched = variant
			break
		}
	}
	if matched == nil {
		matched = fallback
	}
	if matched == nil {
		return nil, newErr(KindDecodingError, f.Path, "no union variant matches discriminator %d", discriminator)
	}

	if hasBudget {
		region, err := r.ReadAt(r.Position(), budget)
		if err != nil {
			return nil, err
		}
		sub := NewReader(region)
		sub.SetBitOrder(r.bitOrder)
		v, err := decodeField(ctx, matched.Type, sub)
		if err != nil {
			return nil, err
		}
		if err := r.Seek(r.Position() + budget); err != nil {
			return nil, err
		}
		tagValue(v, matched)
		return v, nil
	}

	v, err := decodeField(ctx, matched.Type, r)
	if err != nil {
		return nil, err
	}
	tagValue(v, matched)
	return v, nil
}

func tagValue(v any, variant *UnionVariant) {
	m, ok := v.(map[string]any)
	if !ok {
		return
	}
	if _, has := m["type"]; !has {
		m["type"] = variantTypeName(variant)
	}
}

func discriminatorFromField(ctx *Context, name string) (uint64, error) {
	v, err := ctx.Resolve(name)
	if err != nil {
		return 0, err
	}
	return asUint64(v)
}

// peekDiscriminator non-destructively reads bits from r. Byte-aligned
// widths (8/16/32) are read via ReadUint so a multi-byte discriminator
// honors endian instead of always accumulating MSB-first.
func peekDiscriminator(r *Reader, bits int, endian Endianness) (uint64, error) {
	r.PushPosition()
	var v uint64
	var err error
	if bits%8 == 0 {
		v, err = r.ReadUint(bits/8, endian)
	} else {
		v, err = r.ReadBits(bits)
	}
	if popErr := r.PopPosition(); popErr != nil && err == nil {
		err = popErr
	}
	return v, err
}

// evalExprUintConst evaluates a variant's when-expression with every
// identifier in it resolving to the discriminator value, so "kind == 1"
// and "value == 1" mean the same thing.
func evalExprUintConst(expr string, discriminator uint64) (bool, error) {
	resolver := constResolver{value: bigFromUint(discriminator)}
	v, err := evalExpr(expr, resolver)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

type constResolver struct{ value any }

func (c constResolver) Resolve(path string) (any, error) { return c.value, nil }

func decodeOptionalField(ctx *Context, f *Field, r *Reader) (any, error) {
	if !evalConditional(f.PresentIf, ctx) {
		return nil, nil
	}
	return decodeField(ctx, f.Inner, r)
}
