// Copyright (c) 2026 BinSchema Authors
// SPDX-License-Identifier: MIT

package schema

import (
	"fmt"
	"hash/crc32"
	"math/big"
)

// fieldSpan records where a sibling field's encoded (or decoded) bytes
// landed, in absolute byte offsets within the type currently being
// processed. Computed fields resolve length_of/position_of/crc32_of/
// sum_of_sizes/sum_of_type_sizes against this table.
type fieldSpan struct {
	start int
	end   int
}

// fieldScope is the bookkeeping threaded through a single type's field
// list during one encode or decode pass: spans recorded per named
// field (and per array element, keyed "name[i]"), and the decoded/
// pre-encode values of sibling fields for count_of/sum_of_type_sizes.
type fieldScope struct {
	spans  map[string]fieldSpan
	values map[string]any
}

func newFieldScope() *fieldScope {
	return &fieldScope{spans: make(map[string]fieldSpan), values: make(map[string]any)}
}

// pendingPatch is a computed field whose wire bytes were reserved as
// zero placeholders during encode and must be filled in once its
// target's span is known.
type pendingPatch struct {
	offset int
	field  *Field
}

// resolveComputed computes the value a Computed descriptor should take
// on, given ctx's scope stack and the raw bytes written so far (for
// crc32_of). Only the encoder calls it; decode keeps a computed field's
// wire value as read.
func resolveComputed(ctx *Context, c *Computed, buf []byte) (uint64, error) {
	switch c.Kind {
	case ComputedLengthOf, ComputedSumOfSizes:
		span, ok := resolveSpan(ctx, c.Target)
		if !ok {
			return 0, newErr(KindEncodingError, "", "computed field targets unknown sibling %q", c.Target)
		}
		start := span.start
		if c.FromAfterField != "" {
			after, ok := resolveSpan(ctx, c.FromAfterField)
			if !ok {
				return 0, newErr(KindEncodingError, "", "from_after_field references unknown sibling %q", c.FromAfterField)
			}
			start = after.end
		}
		return uint64(span.end-start) + uint64(c.Offset), nil

	case ComputedCountOf:
		v, ok := resolveValue(ctx, c.Target)
		if !ok {
			return 0, newErr(KindEncodingError, "", "computed field targets unknown sibling %q", c.Target)
		}
		arr, ok := v.([]any)
		if !ok {
			return 0, newErr(KindEncodingError, "", "count_of target %q is not an array", c.Target)
		}
		return uint64(len(arr)) + uint64(c.Offset), nil

	case ComputedPositionOf:
		span, ok := resolveSpan(ctx, c.Target)
		if !ok {
			return 0, newErr(KindEncodingError, "", "computed field targets unknown sibling %q", c.Target)
		}
		base := 0
		if c.FromAfterField != "" {
			after, ok := resolveSpan(ctx, c.FromAfterField)
			if !ok {
				return 0, newErr(KindEncodingError, "", "from_after_field references unknown sibling %q", c.FromAfterField)
			}
			base = after.end
		}
		return uint64(span.start-base) + uint64(c.Offset), nil

	case ComputedCRC32Of:
		span, ok := resolveSpan(ctx, c.Target)
		if !ok {
			return 0, newErr(KindEncodingError, "", "computed field targets unknown sibling %q", c.Target)
		}
		if buf == nil {
			return 0, newErr(KindEncodingError, "", "crc32_of requires an encode buffer")
		}
		return uint64(crc32.ChecksumIEEE(buf[span.start:span.end])), nil

	case ComputedSumOfTypeSizes:
		scope, arrayName, ok := ctx.resolveTargetScope(c.Target)
		if !ok || scope == nil {
			return 0, newErr(KindEncodingError, "", "computed field targets unknown sibling %q", c.Target)
		}
		iter, ok := ctx.ArrayIterations[arrayName]
		if !ok {
			return 0, newErr(KindEncodingError, "", "sum_of_type_sizes target %q is not an array", c.Target)
		}
		total := uint64(0)
		for _, idx := range iter.TypeIndices[c.ElementType] {
			if span, ok := scope.spans[fmt.Sprintf("%s[%d]", arrayName, idx)]; ok {
				total += uint64(span.end - span.start)
			}
		}
		return total + uint64(c.Offset), nil

	default:
		return 0, newErr(KindEncodingError, "", "unknown computed kind %q", c.Kind)
	}
}

// resolveSpan and resolveValue look up a computed field's Target path
// against ctx's scope stack, following the same grammar Resolve uses
// for values, letting a target reach a sibling outside the immediate
// scope (spec.md §3.4's ../, _root. and array[selector] forms).
func resolveSpan(ctx *Context, path string) (fieldSpan, bool) {
	scope, key, ok := ctx.resolveTargetScope(path)
	if !ok || scope == nil {
		return fieldSpan{}, false
	}
	span, ok := scope.spans[key]
	return span, ok
}

func resolveValue(ctx *Context, path string) (any, bool) {
	scope, key, ok := ctx.resolveTargetScope(path)
	if !ok || scope == nil {
		return nil, false
	}
	v, ok := scope.values[key]
	return v, ok
}

func bigFromUint(v uint64) *big.Int { return new(big.Int).SetUint64(v) }
