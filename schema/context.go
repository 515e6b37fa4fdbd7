// Copyright (c) 2026 BinSchema Authors
// SPDX-License-Identifier: MIT

package schema

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// selectorSentinel is returned by array selector resolution when no
// element matches; arithmetic against it must still type-check as an
// integer per spec.md §4.D.
const selectorSentinel = 0xFFFFFFFF

// ArrayIteration tracks the bookkeeping needed to resolve same_index<T>,
// first<T> and last<T> selectors while encoding or decoding an array:
// for each element type name seen so far, every index at which it
// appeared, in order.
type ArrayIteration struct {
	Index       int
	TypeIndices map[string][]int
}

func newArrayIteration() *ArrayIteration {
	return &ArrayIteration{TypeIndices: make(map[string][]int)}
}

func (a *ArrayIteration) record(typeName string, index int) {
	a.TypeIndices[typeName] = append(a.TypeIndices[typeName], index)
}

// BackRefTable backs back_reference fields (spec.md §3.7): on encode, a
// dictionary from a target's canonical encoded bytes to the first byte
// offset it was written at; on decode, the set of offsets currently
// being dereferenced, guarding against pointer cycles.
type BackRefTable struct {
	seen      map[string]int
	visiting  map[int]bool
}

func newBackRefTable() *BackRefTable {
	return &BackRefTable{seen: make(map[string]int), visiting: make(map[int]bool)}
}

func (b *BackRefTable) lookup(canonical string) (int, bool) {
	off, ok := b.seen[canonical]
	return off, ok
}

func (b *BackRefTable) record(canonical string, offset int) { b.seen[canonical] = offset }

func (b *BackRefTable) enter(offset int) bool {
	if b.visiting[offset] {
		return false
	}
	b.visiting[offset] = true
	return true
}

func (b *BackRefTable) leave(offset int) { delete(b.visiting, offset)
}

// Context is the environment against which computed-field formulas,
// conditional "when" expressions and target paths are resolved. Parents
// holds the chain of enclosing values from outermost to innermost (the
// last entry is the value currently under construction); Scopes is the
// parallel chain of per-type field scopes (spans/values recorded by
// encodeType/decodeType), letting a computed field's Target path reach
// outside its immediate sibling scope via the same ../ and _root.
// grammar Resolve uses; ArrayIterations maps an enclosing array's field
// name to its in-progress iteration state.
type Context struct {
	Parents         []any
	Scopes          []*fieldScope
	ArrayIterations map[string]*ArrayIteration
	BackRefs        *BackRefTable
	Root            any
	Schema          *Schema
	Depth           int
}

// NewContext creates a root Context for a top-level encode or decode.
func NewContext(schema *Schema, root any) *Context {
	return &Context{
		Parents:         []any{root},
		Scopes:          []*fieldScope{nil},
		ArrayIterations: make(map[string]*ArrayIteration),
		BackRefs:        newBackRefTable(),
		Root:            root,
		Schema:          schema,
	}
}

// Child returns a new Context with value pushed onto the parent stack,
// sharing ArrayIterations and BackRefs with the parent. The new level's
// own scope is nil until setLocalScope installs it.
func (c *Context) Child(value any) *Context {
	parents := make([]any, len(c.Parents)+1)
	copy(parents, c.Parents)
	parents[len(parents)-1] = value
	scopes := make([]*fieldScope, len(c.Scopes)+1)
	copy(scopes, c.Scopes)
	return &Context{
		Parents:         parents,
		Scopes:          scopes,
		ArrayIterations: c.ArrayIterations,
		Schema:          c.Schema,
		Depth:           c.Depth + 1,
		BackRefs:        c.BackRefs,
		Root:            c.Root,
	}
}

// setLocalScope installs this context's own fieldScope, populated field
// by field as encodeType/decodeType process td.Fields.
func (c *Context) setLocalScope(s *fieldScope) {
	if len(c.Scopes) > 0 {
		c.Scopes[len(c.Scopes)-1] = s
	}
}

func (c *Context) localScope() *fieldScope {
	if len(c.Scopes) == 0 {
		return nil
	}
	return c.Scopes[len(c.Scopes)-1]
}

// recordSpan and recordValue register a just-processed field's byte
// span and value in the current level's scope, for later computed-field
// resolution (length_of, position_of, crc32_of, sum_of_sizes,
// sum_of_type_sizes, count_of).
func (c *Context) recordSpan(name string, span fieldSpan) {
	if s := c.localScope(); s != nil {
		s.spans[name] = span
	}
}

func (c *Context) recordValue(name string, v any) {
	if s := c.localScope(); s != nil {
		s.values[name] = v
	}
}

// resolveTargetScope resolves a computed field's Target path (spec.md
// §3.4) against this context's scope stack, following the same
// _root./../array[selector] grammar Resolve uses for value lookups, and
// returns the scope holding the final local key plus that key.
func (c *Context) resolveTargetScope(path string) (*fieldScope, string, bool) {
	if path == "" || len(c.Scopes) == 0 {
		return nil, "", false
	}

	if strings.HasPrefix(path, "_root.") {
		return c.Scopes[0], path[len("_root."):], true
	}

	ascend := 0
	rest := path
	for strings.HasPrefix(rest, "../") {
		ascend++
		rest = rest[len("../"):]
	}
	level := len(c.Scopes) - 1 - ascend
	if level < 0 {
		return nil, "", false
	}

	if idx := strings.IndexByte(rest, '['); idx >= 0 && strings.HasSuffix(rest, "]") {
		name := rest[:idx]
		selector := rest[idx+1 : len(rest)-1]
		elemIdx, found, err := c.resolveSelectorIndex(name, selector)
		if err != nil || !found {
			return nil, "", false
		}
		return c.Scopes[level], fmt.Sprintf("%s[%d]", name, elemIdx), true
	}

	if ascend > 0 {
		return c.Scopes[level], rest, true
	}

	for i := len(c.Scopes) - 1; i >= 0; i-- {
		if c.Scopes[i] == nil {
			continue
		}
		if _, ok := c.Scopes[i].spans[rest]; ok {
			return c.Scopes[i], rest, true
		}
		if _, ok := c.Scopes[i].values[rest]; ok {
			return c.Scopes[i], rest, true
		}
	}
	return c.Scopes[len(c.Scopes)-1], rest, true
}

func (c *Context) current() any {
	if len(c.Parents) == 0 {
		return nil
	}
	return c.Parents[len(c.Parents)-1]
}

// Resolve implements spec.md §4.D's four-step path resolution algorithm:
//  1. `_root.`-prefixed paths resolve against the document root.
//  2. `../`-prefixed paths ascend one parent level per occurrence.
//  3. `name[selector]` resolves an array sibling by same_index<T>,
//     first<T> or last<T>, falling back to the sentinel on no match.
//  4. A plain `name` resolves against the value under construction,
//     walking outward through parents if not found locally.
func (c *Context) Resolve(path string) (any, error) {
	if path == "" {
		return nil, fmt.Errorf("empty path")
	}

	if strings.HasPrefix(path, "_root.") {
		return resolveDotted(c.Root, path[len("_root."):])
	}

	ascend := 0
	rest := path
	for strings.HasPrefix(rest, "../") {
		ascend++
		rest = rest[len("../"):]
	}
	if ascend > 0 {
		if ascend >= len(c.Parents) {
			return nil, fmt.Errorf("parent navigation exceeds available levels (%d levels requested, %d available)", ascend, len(c.Parents)-1)
		}
		base := c.Parents[len(c.Parents)-1-ascend]
		return resolveDotted(base, rest)
	}

	if idx := strings.IndexByte(rest, '['); idx >= 0 && strings.HasSuffix(rest, "]") {
		name := rest[:idx]
		selector := rest[idx+1 : len(rest)-1]
		return c.resolveSelector(name, selector)
	}

	return c.resolveLocal(rest)
}

// resolveLocal resolves a plain dotted name against the value under
// construction first, then against enclosing parents outward.
func (c *Context) resolveLocal(path string) (any, error) {
	for i := len(c.Parents) - 1; i >= 0; i-- {
		if v, err := resolveDotted(c.Parents[i], path); err == nil {
			return v, nil
		}
	}
	return nil, fmt.Errorf("identifier %q not found", path)
}

// resolveSelector resolves name[selector] against the nearest enclosing
// array whose iteration state is tracked in ArrayIterations.
func (c *Context) resolveSelector(name, selector string) (any, error) {
	target, found, err := c.resolveSelectorIndex(name, selector)
	if err != nil {
		return nil, err
	}
	if !found {
		return big.NewInt(selectorSentinel), nil
	}

	arr, ok := elementsOf(c.current(), name)
	if !ok {
		return nil, fmt.Errorf("field %q is not an array in current scope", name)
	}
	if target < 0 || target >= len(arr) {
		return big.NewInt(selectorSentinel), nil
	}
	return arr[target], nil
}

// resolveSelectorIndex resolves the same_index<T>/first<T>/last<T>
// grammar to a concrete array index, independent of the element value
// domain; used by both resolveSelector (value lookups) and
// resolveTargetScope (computed-field span/value lookups).
func (c *Context) resolveSelectorIndex(name, selector string) (int, bool, error) {
	iter, ok := c.ArrayIterations[name]
	if !ok {
		return 0, false, fmt.Errorf("no array iteration state for %q", name)
	}

	var typeName string
	var mode string
	switch {
	case strings.HasPrefix(selector, "same_index<") && strings.HasSuffix(selector, ">"):
		mode = "same_index"
		typeName = selector[len("same_index<") : len(selector)-1]
	case strings.HasPrefix(selector, "first<") && strings.HasSuffix(selector, ">"):
		mode = "first"
		typeName = selector[len("first<") : len(selector)-1]
	case strings.HasPrefix(selector, "last<") && strings.HasSuffix(selector, ">"):
		mode = "last"
		typeName = selector[len("last<") : len(selector)-1]
	default:
		return 0, false, fmt.Errorf("unrecognized array selector %q", selector)
	}

	indices := iter.TypeIndices[typeName]
	switch mode {
	case "same_index":
		for _, idx := range indices {
			if idx == iter.Index {
				return idx, true, nil
			}
		}
		return 0, false, nil
	case "first":
		if len(indices) == 0 {
			return 0, false, nil
		}
		return indices[0], true, nil
	default: // "last"
		if len(indices) == 0 {
			return 0, false, nil
		}
		return indices[len(indices)-1], true, nil
	}
}

// elementsOf looks up an array-typed field on value by name.
func elementsOf(value any, name string) ([]any, bool) {
	m, ok := value.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := m[name]
	if !ok {
		return nil, false
	}
	arr, ok := v.([]any)
	return arr, ok
}

// resolveDotted walks a dotted path (sibling bitfield sub-field or
// nested struct access) against a map[string]any / []any value tree.
func resolveDotted(value any, path string) (any, error) {
	if path == "" {
		return value, nil
	}
	parts := strings.Split(path, ".")
	cur := value
	for _, part := range parts {
		name, index, hasIndex := splitArrayIndex(part)
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cannot navigate into non-struct value at %q", part)
		}
		next, ok := m[name]
		if !ok {
			return nil, fmt.Errorf("identifier %q not found", part)
		}
		if hasIndex {
			arr, ok := next.([]any)
			if !ok {
				return nil, fmt.Errorf("%q is not an array", name)
			}
			if index < 0 || index >= len(arr) {
				return nil, fmt.Errorf("index %d out of bounds for %q (length %d)", index, name, len(arr))
			}
			next = arr[index]
		}
		cur = next
	}
	return cur, nil
}

func splitArrayIndex(part string) (name string, index int, hasIndex bool) {
	open := strings.IndexByte(part, '[')
	if open < 0 || !strings.HasSuffix(part, "]") {
		return part, 0, false
	}
	name = part[:open]
	n, err := strconv.Atoi(part[open+1 : len(part)-1])
	if err != nil {
		return part, 0, false
	}
	return name, n, true
}
