// Copyright (c) 2026 BinSchema Authors
// SPDX-License-Identifier: MIT

package schema

import "fmt"

// Validate runs the closed set of static checks over a parsed Schema,
// returning every violation found (not just the first) as *Error values
// of kind SchemaInvalid.
func Validate(s *Schema) []error {
	v := &validator{schema: s, visiting: make(map[string]bool)}
	v.checkRootExists()
	for name, td := range s.Types {
		v.checkTypeDef(name, td)
		v.checkInstanceCycles(name, td)
	}
	return v.errs
}

type validator struct {
	schema   *Schema
	errs     []error
	visiting map[string]bool
}

func (v *validator) fail(path, format string, args ...any) {
	v.errs = append(v.errs, newErr(KindSchemaInvalid, path, format, args...))
}

func (v *validator) checkRootExists() {
	if _, ok := v.schema.Types[v.schema.Root]; !ok {
		v.fail("root", "root type %q not found", v.schema.Root)
	}
}

func (v *validator) checkTypeDef(name string, td *TypeDef) {
	names := make(map[string]bool)
	for i, f := range td.Fields {
		path := fmt.Sprintf("types.%s.fields[%d]", name, i)
		if f.Name != "" {
			if names[f.Name] {
				v.fail(path, "duplicate field name %q in type %q", f.Name, name)
			}
			names[f.Name] = true
		}
		v.checkField(f, path)
	}
	for i, inst := range td.Instances {
		path := fmt.Sprintf("types.%s.instances[%d]", name, i)
		if inst.Name == "" {
			v.fail(path, "instance must have a name")
		}
		if inst.Position == "" {
			v.fail(path+".position", "instance %q must declare a position expression", inst.Name)
		}
		v.checkField(inst.Type, path+".type")
	}
}

func (v *validator) checkField(f *Field, path string) {
	switch f.Kind {
	case KindBit:
		if f.Bits <= 0 || f.Bits > 64 {
			v.fail(path+".bits", "bit width %d must be a numeric type in range 1..64", f.Bits)
		}

	case KindBitfield:
		total := 0
		for i, sub := range f.SubFields {
			subPath := fmt.Sprintf("%s.fields[%d]", path, i)
			v.checkField(sub, subPath)
			if sub.Kind == KindBit {
				total += sub.Bits
			}
		}
		if total%8 != 0 {
			v.fail(path, "bitfield container %q total width %d bits is not byte-aligned", f.Name, total)
		}

	case KindString:
		switch f.StringMode {
		case StringFieldRef:
			if f.LengthField == "" {
				v.fail(path+".length_field", "field_referenced string must name a length_field")
			}
		case StringFixed:
			if f.FixedLength <= 0 {
				v.fail(path+".length", "fixed string length must be a numeric type greater than 0")
			}
		}

	case KindArray:
		v.checkField(f.ElementType, path+".element_type")
		switch f.ArrayMode {
		case ArrayFieldRef:
			if f.CountField == "" {
				v.fail(path+".count_field", "field_referenced array must name a count_field")
			}
		case ArrayFixedCount:
			if f.Count <= 0 {
				v.fail(path+".count", "fixed array must declare a count greater than 0")
			}
		case ArrayLengthPrefixed, ArrayByteLengthPrefixed:
			if f.PrefixBits <= 0 {
				v.fail(path+".prefix_bits", "%s array must declare a positive prefix_bits", f.ArrayMode)
			}
		case ArrayEOFTerminated:
		default:
			v.fail(path, "unknown array mode %q", f.ArrayMode)
		}

	case KindVarlength:
		switch f.VarintKind {
		case VarintDER, VarintLEB128, VarintEBML, VarintVLQ:
		default:
			v.fail(path+".encoding", "unknown varlength encoding %q", f.VarintKind)
		}

	case KindTypeRef:
		if f.TypeName == "" {
			v.fail(path+".type", "type_ref field must name a type")
			return
		}
		if _, ok := v.schema.Types[f.TypeName]; !ok {
			v.fail(path+".type", "referenced type %q not found", f.TypeName)
			return
		}
		v.checkNoCycle(f.TypeName, path, map[string]bool{})

	case KindChoice:
		if len(f.Choices) == 0 {
			v.fail(path+".choices", "choice field must declare a non-empty choices list")
			break
		}
		var discName string
		var discBits int
		seenConsts := make(map[string]bool)
		for i, candidate := range f.Choices {
			cp := fmt.Sprintf("%s.choices[%d]", path, i)
			v.checkField(candidate, cp)
			if candidate.Kind != KindTypeRef || candidate.TypeName == "" {
				v.fail(cp, "choice candidate must be a type_ref")
				continue
			}
			td, ok := v.schema.Types[candidate.TypeName]
			if !ok || len(td.Fields) == 0 {
				v.fail(cp, "choice candidate type %q must declare at least one field", candidate.TypeName)
				continue
			}
			disc := td.Fields[0]
			if disc.Const == nil {
				v.fail(cp, "choice candidate type %q's first field must be const-valued", candidate.TypeName)
				continue
			}
			if discName == "" {
				discName, discBits = disc.Name, disc.Bits
			} else if disc.Name != discName || disc.Bits != discBits {
				v.fail(cp, "choice candidate type %q's discriminator field must match the other candidates' name and width", candidate.TypeName)
			}
			key := disc.Const.String()
			if seenConsts[key] {
				v.fail(cp, "choice candidates must have pairwise-distinct discriminator const values, %s repeated", key)
			}
			seenConsts[key] = true
		}

	case KindUnion:
		if f.Union == nil {
			v.fail(path, "union field missing descriptor")
			return
		}
		hasPeek := f.Union.DiscriminatorPeekBits > 0
		hasField := f.Union.DiscriminatorField != ""
		switch {
		case !hasPeek && !hasField:
			v.fail(path, "union must declare either a discriminator_peek_bits or a discriminator_field")
		case hasPeek && hasField:
			v.fail(path, "union must declare exactly one of discriminator_peek_bits or discriminator_field, not both")
		case hasPeek:
			switch f.Union.DiscriminatorPeekBits {
			case 8:
				if f.Union.Endian != "" {
					v.fail(path+".endian", "an 8-bit peek discriminator has no byte order and must not declare endian")
				}
			case 16, 32:
				if f.Union.Endian == "" {
					v.fail(path+".endian", "a %d-bit peek discriminator must declare endian", f.Union.DiscriminatorPeekBits)
				}
			default:
				v.fail(path+".discriminator_peek_bits", "peek discriminator width %d must be 8, 16 or 32 bits", f.Union.DiscriminatorPeekBits)
			}
		}
		fallbackSeen := false
		for i, variant := range f.Union.Variants {
			vp := fmt.Sprintf("%s.variants[%d]", path, i)
			if variant.Fallback {
				if fallbackSeen {
					v.fail(vp, "union has more than one fallback variant")
				}
				fallbackSeen = true
			} else if variant.When == "" {
				v.fail(vp+".when", "non-fallback variant must declare a when expression")
			}
			if variant.Type != nil {
				v.checkField(variant.Type, vp+".type")
			}
		}

	case KindBackRef:
		if f.BackRef == nil || f.BackRef.Target == nil {
			v.fail(path+".target", "back_reference must declare a target type")
			return
		}
		v.checkField(f.BackRef.Target, path+".target")
		if f.BackRef.Target.Kind == KindTypeRef && f.BackRef.Target.TypeName != "" {
			v.checkBackRefNotRecursive(f.BackRef.Target.TypeName, path, map[string]bool{})
		}

	case KindOptional:
		if f.PresentIf == "" {
			v.fail(path+".present_if", "optional field must declare a present_if expression")
		}
		if f.Inner != nil {
			v.checkField(f.Inner, path+".inner")
		}

	case KindComputed:
		if f.Computed == nil {
			v.fail(path, "computed field missing descriptor")
			return
		}
		switch f.Computed.Kind {
		case ComputedLengthOf, ComputedCountOf, ComputedPositionOf, ComputedCRC32Of, ComputedSumOfSizes, ComputedSumOfTypeSizes:
		default:
			v.fail(path+".compute", "unknown computed kind %q", f.Computed.Kind)
		}
		if f.Computed.Kind != ComputedSumOfSizes && f.Computed.Target == "" {
			v.fail(path+".target", "computed field must declare a target")
		}

	default:
		v.fail(path+".kind", "unknown field kind %q", f.Kind)
	}
}

// checkNoCycle detects non-recursive-alias cycles in type_ref chains:
// a type_ref field directly nesting its own enclosing type with no
// intervening array/optional/choice wrapper to bound recursion depth.
func (v *validator) checkNoCycle(typeName, path string, seen map[string]bool) {
	if seen[typeName] {
		v.fail(path, "circular type_ref chain reaches %q again with no bounding construct", typeName)
		return
	}
	seen[typeName] = true
	td, ok := v.schema.Types[typeName]
	if !ok {
		return
	}
	for _, f := range td.Fields {
		if f.Kind == KindTypeRef && f.TypeName != "" {
			v.checkNoCycle(f.TypeName, path, seen)
		}
	}
	delete(seen, typeName)
}

// checkInstanceCycles detects an instance whose position expression
// (transitively) depends on another instance declared in the same type
// whose own position depends back on the first, which would make
// InstanceSet.Get's lazy resolution loop forever.
func (v *validator) checkInstanceCycles(typeName string, td *TypeDef) {
	if len(td.Instances) == 0 {
		return
	}
	byName := make(map[string]*Instance, len(td.Instances))
	for _, inst := range td.Instances {
		byName[inst.Name] = inst
	}
	for i, inst := range td.Instances {
		path := fmt.Sprintf("types.%s.instances[%d]", typeName, i)
		if walkInstanceDeps(inst.Name, inst.Name, byName, map[string]bool{}) {
			v.fail(path+".position", "instance %q has a circular position dependency on another instance in %q", inst.Name, typeName)
		}
	}
}

// walkInstanceDeps reports whether following cur's position expression's
// instance references (transitively) reaches target, guarding against
// revisiting any instance already explored on the current path.
func walkInstanceDeps(cur, target string, byName map[string]*Instance, visiting map[string]bool) bool {
	if visiting[cur] {
		return false
	}
	visiting[cur] = true
	inst, ok := byName[cur]
	if !ok {
		return false
	}
	for _, dep := range referencedIdentifiers(inst.Position, byName) {
		if dep == target {
			return true
		}
		if walkInstanceDeps(dep, target, byName, visiting) {
			return true
		}
	}
	return false
}

// referencedIdentifiers scans expr for any of the identifiers declared
// in candidates, by substring-with-word-boundary match. This is a
// heuristic over the expression text rather than a full parse, adequate
// for the closed identifier set (other instances' names) it checks
// against.
func referencedIdentifiers(expr string, candidates map[string]*Instance) []string {
	var found []string
	for name := range candidates {
		if containsIdentifier(expr, name) {
			found = append(found, name)
		}
	}
	return found
}

func containsIdentifier(s, ident string) bool {
	for i := 0; i+len(ident) <= len(s); i++ {
		if s[i:i+len(ident)] != ident {
			continue
		}
		before := byte(0)
		if i > 0 {
			before = s[i-1]
		}
		after := byte(0)
		if i+len(ident) < len(s) {
			after = s[i+len(ident)]
		}
		if !isIdentPart(before) && !isIdentPart(after) {
			return true
		}
	}
	return false
}

// checkBackRefNotRecursive reports a type that declares a back_reference
// field whose target is that same type, which would make the
// dictionary/cycle-guard protocol in backref.go non-terminating. It
// inspects only typeName's own fields and does not follow type_refs into
// other types.
func (v *validator) checkBackRefNotRecursive(typeName, path string, seen map[string]bool) {
	if seen[typeName] {
		v.fail(path, "circular back_reference chain reaches %q again", typeName)
		return
	}
	seen[typeName] = true
	td, ok := v.schema.Types[typeName]
	if !ok {
		return
	}
	for _, f := range td.Fields {
		if f.Kind == KindBackRef && f.BackRef != nil && f.BackRef.Target != nil && f.BackRef.Target.TypeName == typeName {
			v.fail(path, "circular back_reference chain reaches %q again", typeName)
		}
	}
}
