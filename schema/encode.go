// Copyright (c) 2026 BinSchema Authors
// SPDX-License-Identifier: MIT

package schema

import "fmt"

// Encode renders value (a map[string]any matching s.Root's field names)
// into its binary wire form according to s.
func Encode(s *Schema, value map[string]any) ([]byte, error) {
	td, ok := s.Types[s.Root]
	if !ok {
		return nil, newErr(KindSchemaInvalid, "root", "root type %q not found", s.Root)
	}
	w := NewWriter()
	w.SetBitOrder(s.BitOrder)
	ctx := NewContext(s, value)
	if err := encodeType(ctx, td, value, w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// encodeType writes every field of td in declaration order, deferring
// computed fields (reserving placeholder bytes) until every sibling span
// they might reference has been recorded.
func encodeType(ctx *Context, td *TypeDef, value map[string]any, w *Writer) error {
	scope := newFieldScope()
	ctx.setLocalScope(scope)
	var pending []pendingPatch

	for _, f := range td.Fields {
		if f.Kind == KindComputed {
			offset := w.ByteOffset()
			if err := w.Write(make([]byte, f.Computed.Width/8)); err != nil {
				return wrapErr(KindEncodingError, f.Path, err, "reserving computed field %q", f.Name)
			}
			pending = append(pending, pendingPatch{offset: offset, field: f})
			continue
		}

		if f.Condition != "" && !evalConditional(f.Condition, ctx) {
			continue
		}

		v := value[f.Name]
		start := w.ByteOffset()
		if err := encodeField(ctx, f, v, w); err != nil {
			return wrapErr(KindEncodingError, f.Path, err, "encoding field %q", f.Name)
		}
		end := w.ByteOffset()
		if f.Name != "" {
			ctx.recordSpan(f.Name, fieldSpan{start: start, end: end})
			ctx.recordValue(f.Name, v)
		}
	}

	for _, pp := range pending {
		val, err := resolveComputed(ctx, pp.field.Computed, w.Bytes())
		if err != nil {
			return wrapErr(KindEncodingError, pp.field.Path, err, "resolving computed field %q", pp.field.Name)
		}
		buf := putUint(val, pp.field.Computed.Width/8, ctx.Schema.Endian)
		if err := w.WriteAt(pp.offset, buf); err != nil {
			return err
		}
	}

	return nil
}

func encodeField(ctx *Context, f *Field, value any, w *Writer) error {
	switch f.Kind {
	case KindBit:
		return encodeBitField(f, value, w)
	case KindBitfield:
		return encodeBitfieldContainer(f, value, w)
	case KindString:
		return encodeStringField(ctx, f, value, w)
	case KindArray:
		return encodeArrayField(ctx, f, value, w)
	case KindVarlength:
		return encodeVarlengthField(f, value, w)
	case KindTypeRef:
		return encodeTypeRefField(ctx, f, value, w)
	case KindChoice:
		return encodeChoiceField(ctx, f, value, w)
	case KindUnion:
		return encodeUnionField(ctx, f, value, w)
	case KindBackRef:
		return encodeBackRefField(ctx, f, value, w)
	case KindOptional:
		return encodeOptionalField(ctx, f, value, w)
	default:
		return newErr(KindEncodingError, f.Path, "field kind %q cannot appear as a direct value", f.Kind)
	}
}

func encodeBitField(f *Field, value any, w *Writer) error {
	if f.Const != nil {
		value = f.Const
	}
	if f.Float {
		fv, err := asFloat(value)
		if err != nil {
			return err
		}
		return w.WriteFloat(fv, f.Bits/8, f.Endian)
	}
	if f.Bits%8 == 0 {
		if f.Signed {
			iv, err := asInt64(value)
			if err != nil {
				return err
			}
			return w.WriteInt(iv, f.Bits/8, f.Endian)
		}
		uv, err := asUint64(value)
		if err != nil {
			return err
		}
		return w.WriteUint(uv, f.Bits/8, f.Endian)
	}
	uv, err := asUint64(value)
	if err != nil {
		return err
	}
	return w.WriteBits(uv, f.Bits)
}

func encodeBitfieldContainer(f *Field, value any, w *Writer) error {
	m, err := asMap(value)
	if err != nil {
		return err
	}
	for _, sub := range f.SubFields {
		uv, err := asUint64(m[sub.Name])
		if err != nil {
			return wrapErr(KindEncodingError, sub.Path, err, "encoding bitfield sub-field %q", sub.Name)
		}
		if err := w.WriteBits(uv, sub.Bits); err != nil {
			return err
		}
	}
	return nil
}

func encodeStringField(ctx *Context, f *Field, value any, w *Writer) error {
	s, err := asString(value)
	if err != nil {
		return err
	}
	raw := []byte(s)
	switch f.StringMode {
	case StringFixed:
		buf := make([]byte, f.FixedLength)
		copy(buf, raw)
		return w.Write(buf)
	case StringLengthPrefixed:
		if err := w.WriteUint(uint64(len(raw)), f.Bits/8, ctx.Schema.Endian); err != nil {
			return err
		}
		return w.Write(raw)
	case StringFieldRef:
		return w.Write(raw)
	case StringDelimited:
		if err := w.Write(raw); err != nil {
			return err
		}
		return w.WriteUint(uint64(f.Delimiter), 1, ctx.Schema.Endian)
	default:
		return newErr(KindEncodingError, f.Path, "unknown string mode %q", f.StringMode)
	}
}

func encodeArrayField(ctx *Context, f *Field, value any, w *Writer) error {
	arr, err := asArray(value)
	if err != nil {
		return err
	}
	iter := newArrayIteration()
	ctx.ArrayIterations[f.Name] = iter

	switch f.ArrayMode {
	case ArrayLengthPrefixed:
		if err := w.WriteUint(uint64(len(arr)), f.PrefixBits/8, ctx.Schema.Endian); err != nil {
			return err
		}
		return encodeArrayElements(ctx, f, arr, iter, w)

	case ArrayByteLengthPrefixed:
		sub := NewWriter()
		sub.SetBitOrder(w.bitOrder)
		if err := encodeArrayElements(ctx, f, arr, iter, sub); err != nil {
			return err
		}
		if err := w.WriteUint(uint64(len(sub.Bytes())), f.PrefixBits/8, ctx.Schema.Endian); err != nil {
			return err
		}
		return w.Write(sub.Bytes())

	default: // ArrayFixedCount, ArrayFieldRef, ArrayEOFTerminated: element count implied by value/context
		return encodeArrayElements(ctx, f, arr, iter, w)
	}
}

// encodeArrayElements writes each element in order, recording both the
// array's iteration state (for same_index<T>/first<T>/last<T>) and each
// element's own byte span (keyed "name[i]", for sum_of_type_sizes).
func encodeArrayElements(ctx *Context, f *Field, arr []any, iter *ArrayIteration, w *Writer) error {
	for i, elem := range arr {
		iter.Index = i
		iter.record(elementTypeName(f.ElementType, elem), i)
		start := w.ByteOffset()
		if err := encodeField(ctx, f.ElementType, elem, w); err != nil {
			return wrapErr(KindEncodingError, f.ElementType.Path, err, "encoding element %d of %q", i, f.Name)
		}
		end := w.ByteOffset()
		ctx.recordSpan(fmt.Sprintf("%s[%d]", f.Name, i), fieldSpan{start: start, end: end})
	}
	return nil
}

func elementTypeName(elemField *Field, value any) string {
	if m, ok := value.(map[string]any); ok {
		if t, ok := m["type"].(string); ok && t != "" {
			return t
		}
	}
	if elemField.Kind == KindTypeRef {
		return elemField.TypeName
	}
	return string(elemField.Kind)
}

func encodeVarlengthField(f *Field, value any, w *Writer) error {
	uv, err := asUint64(value)
	if err != nil {
		return err
	}
	buf, err := encodeVarint(f.VarintKind, uv)
	if err != nil {
		return err
	}
	return w.Write(buf)
}

func encodeTypeRefField(ctx *Context, f *Field, value any, w *Writer) error {
	td, ok := ctx.Schema.Types[f.TypeName]
	if !ok {
		return newErr(KindSchemaInvalid, f.Path, "referenced type %q not found", f.TypeName)
	}
	m, err := asMap(value)
	if err != nil {
		return err
	}
	return encodeType(ctx.Child(m), td, m, w)
}

// encodeChoiceField writes the candidate named by value's synthetic
// "type" tag. No separate discriminator byte is written: the winning
// candidate's own const-valued first field (see encodeBitField) carries
// the dispatch value as an ordinary, genuinely read field.
func encodeChoiceField(ctx *Context, f *Field, value any, w *Writer) error {
	m, err := asMap(value)
	if err != nil {
		return err
	}
	typeName, _ := m["type"].(string)
	for _, candidate := range f.Choices {
		if candidate.Kind == KindTypeRef && candidate.TypeName == typeName {
			return encodeField(ctx, candidate, value, w)
		}
	}
	return newErr(KindEncodingError, f.Path, "no choice candidate matches %q", typeName)
}

func encodeUnionField(ctx *Context, f *Field, value any, w *Writer) error {
	m, err := asMap(value)
	if err != nil {
		return err
	}
	typeName, _ := m["type"].(string)

	var matched *UnionVariant
	var fallback *UnionVariant
	for _, variant := range f.Union.Variants {
		if variant.Fallback {
			fallback = variant
			continue
		}
		if variantTypeName(variant) == typeName {
			matched = variant
			break
		}
	}
	if matched == nil {
		matched = fallback
	}
	if matched == nil {
		return newErr(KindEncodingError, f.Path, "no union variant matches discriminator %q", typeName)
	}
	return encodeField(ctx, matched.Type, value, w)
}

func variantTypeName(v *UnionVariant) string {
	if v.Type.Kind == KindTypeRef {
		return v.Type.TypeName
	}
	return ""
}

func encodeOptionalField(ctx *Context, f *Field, value any, w *Writer) error {
	if !evalConditional(f.PresentIf, ctx) {
		return nil
	}
	if value == nil {
		return newErr(KindEncodingError, f.Path, "optional field %q is present_if-true but has no value", f.Name)
	}
	return encodeField(ctx, f.Inner, value, w)
}

