// Copyright (c) 2026 BinSchema Authors
// SPDX-License-Identifier: MIT

package schema

import (
	"math/big"
	"testing"
)

func TestContextResolveLocal(t *testing.T) {
	root := map[string]any{"version": int64(2)}
	ctx := NewContext(nil, root)
	v, err := ctx.Resolve("version")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if v != int64(2) {
		t.Errorf("Resolve(version) = %v, want 2", v)
	}
}

func TestContextResolveParent(t *testing.T) {
	root := map[string]any{"version": int64(2)}
	ctx := NewContext(nil, root)
	inner := ctx.Child(map[string]any{"length": int64(10)})
	v, err := inner.Resolve("../version")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if v != int64(2) {
		t.Errorf("Resolve(../version) = %v, want 2", v)
	}
}

func TestContextResolveRoot(t *testing.T) {
	root := map[string]any{"magic": "RIFF"}
	ctx := NewContext(nil, root)
	inner := ctx.Child(map[string]any{"chunk": "fmt "})
	v, err := inner.Resolve("_root.magic")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if v != "RIFF" {
		t.Errorf("Resolve(_root.magic) = %v, want RIFF", v)
	}
}

func TestContextResolveParentExceedsLevels(t *testing.T) {
	root := map[string]any{}
	ctx := NewContext(nil, root)
	_, err := ctx.Resolve("../../x")
	if err == nil {
		t.Fatal("expected an error for excessive parent navigation")
	}
}

func TestContextSelectorSentinelOnNoMatch(t *testing.T) {
	root := map[string]any{"items": []any{map[string]any{"type": "a"}}}
	ctx := NewContext(nil, root)
	iter := newArrayIteration()
	iter.Index = 0
	iter.record("a", 0)
	ctx.ArrayIterations["items"] = iter

	v, err := ctx.Resolve("items[first<b>]")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	bi, ok := v.(*big.Int)
	if !ok || bi.Uint64() != selectorSentinel {
		t.Errorf("Resolve(items[first<b>]) = %v, want sentinel", v)
	}
}

func TestContextSelectorFirstMatch(t *testing.T) {
	root := map[string]any{"items": []any{
		map[string]any{"type": "a", "val": int64(1)},
		map[string]any{"type": "b", "val": int64(2)},
	}}
	ctx := NewContext(nil, root)
	iter := newArrayIteration()
	iter.record("a", 0)
	iter.record("b", 1)
	ctx.ArrayIterations["items"] = iter

	v, err := ctx.Resolve("items[first<b>]")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok || m["val"] != int64(2) {
		t.Errorf("Resolve(items[first<b>]) = %v, want element with val=2", v)
	}
}
