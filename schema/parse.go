// Copyright (c) 2026 BinSchema Authors
// SPDX-License-Identifier: MIT

package schema

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/aeolun/json5"
	"gopkg.in/yaml.v3"
)

// ParseSchema parses a relaxed JSON5 schema document (spec.md §6.1):
// unquoted keys, trailing commas, comments, and single-quoted strings
// are all accepted.
func ParseSchema(data []byte) (*Schema, error) {
	var raw map[string]any
	if err := json5.Unmarshal(data, &raw); err != nil {
		return nil, wrapErr(KindSchemaInvalid, "", err, "invalid JSON5 document")
	}
	return normalizeSchema(raw)
}

// ParseSchemaYAML parses a YAML-authored schema document, converting
// yaml.v3's native map[string]interface{}/[]interface{} shape into the
// same raw representation ParseSchema consumes.
func ParseSchemaYAML(data []byte) (*Schema, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, wrapErr(KindSchemaInvalid, "", err, "invalid YAML document")
	}
	return normalizeSchema(yamlToJSONShape(raw).(map[string]any))
}

// yamlToJSONShape recursively converts yaml.v3's decoded value shapes
// (map[string]interface{}, map[interface{}]interface{} on older decode
// paths) into the map[string]any/[]any/string/float64/bool shape the
// JSON5 path already produces, so normalizeSchema has one input shape
// to deal with regardless of source format.
func yamlToJSONShape(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = yamlToJSONShape(vv)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[fmt.Sprintf("%v", k)] = yamlToJSONShape(vv)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = yamlToJSONShape(vv)
		}
		return out
	case int:
		return float64(val)
	default:
		return val
	}
}

// normalizeSchema converts the raw decoded document into the Schema
// model, applying spec.md §4.B's normalization rules.
func normalizeSchema(raw map[string]any) (*Schema, error) {
	s := &Schema{
		Name:        getStr(raw, "name"),
		Description: getStr(raw, "description"),
		Endian:      parseEndian(getStr(raw, "endian"), BigEndian),
		BitOrder:    parseBitOrder(getStr(raw, "bit_order"), MSBFirst),
		Root:        getStr(raw, "root"),
		Types:       make(map[string]*TypeDef),
		Config:      DefaultConfig(),
	}

	typesRaw, ok := raw["types"].(map[string]any)
	if !ok {
		return nil, newErr(KindSchemaInvalid, "types", "schema document has no \"types\" map")
	}
	for name, v := range typesRaw {
		tdRaw, ok := v.(map[string]any)
		if !ok {
			return nil, newErr(KindSchemaInvalid, "types."+name, "type definition must be an object")
		}
		td, err := normalizeTypeDef(name, tdRaw, s)
		if err != nil {
			return nil, err
		}
		s.Types[name] = td
	}

	if s.Root == "" {
		return nil, newErr(KindSchemaInvalid, "root", "schema document has no \"root\" type name")
	}

	return s, nil
}

func normalizeTypeDef(name string, raw map[string]any, s *Schema) (*TypeDef, error) {
	td := &TypeDef{Name: name}

	fieldsRaw, _ := raw["fields"].([]any)
	for i, fv := range fieldsRaw {
		fm, ok := fv.(map[string]any)
		if !ok {
			return nil, newErr(KindSchemaInvalid, fmt.Sprintf("types.%s.fields[%d]", name, i), "field must be an object")
		}
		path := fmt.Sprintf("types.%s.fields[%d]", name, i)
		f, err := normalizeField(fm, path, s)
		if err != nil {
			return nil, err
		}
		td.Fields = append(td.Fields, f)
	}

	instancesRaw, _ := raw["instances"].([]any)
	for i, iv := range instancesRaw {
		im, ok := iv.(map[string]any)
		if !ok {
			return nil, newErr(KindSchemaInvalid, fmt.Sprintf("types.%s.instances[%d]", name, i), "instance must be an object")
		}
		path := fmt.Sprintf("types.%s.instances[%d]", name, i)
		typeRaw, ok := im["type"].(map[string]any)
		if !ok {
			return nil, newErr(KindSchemaInvalid, path+".type", "instance must declare a \"type\"")
		}
		typeField, err := normalizeField(typeRaw, path+".type", s)
		if err != nil {
			return nil, err
		}
		td.Instances = append(td.Instances, &Instance{
			Name:     getStr(im, "name"),
			Position: getStr(im, "position"),
			Size:     getStr(im, "size"),
			Type:     typeField,
		})
	}

	return td, nil
}

// normalizeField applies §4.B's reclassification: a string with a
// "length_field" key is field_referenced even when "length" or
// "length_prefixed" is also present, and an array with a "count_field"
// key is field_referenced ahead of any other count or length key. No
// other keys are rewritten or canonicalized.
func normalizeField(raw map[string]any, path string, s *Schema) (*Field, error) {
	f := &Field{
		Name:      getStr(raw, "name"),
		Path:      path,
		Condition: getStr(raw, "when"),
	}

	kind := getStr(raw, "kind")
	switch FieldKind(kind) {
	case KindBit:
		f.Kind = KindBit
		f.Bits = getInt(raw, "bits")
		f.Signed = getBool(raw, "signed")
		f.Float = getBool(raw, "float")
		f.Endian = parseEndian(getStr(raw, "endian"), s.Endian)
		f.BitOrder = parseBitOrder(getStr(raw, "bit_order"), s.BitOrder)
		if _, ok := raw["const"]; ok {
			f.Const = big.NewInt(int64(getInt(raw, "const")))
		}

	case KindBitfield:
		f.Kind = KindBitfield
		subsRaw, _ := raw["fields"].([]any)
		for i, sv := range subsRaw {
			sm, ok := sv.(map[string]any)
			if !ok {
				return nil, newErr(KindSchemaInvalid, fmt.Sprintf("%s.fields[%d]", path, i), "sub-field must be an object")
			}
			sub, err := normalizeField(sm, fmt.Sprintf("%s.fields[%d]", path, i), s)
			if err != nil {
				return nil, err
			}
			f.SubFields = append(f.SubFields, sub)
		}

	case KindString:
		f.Kind = KindString
		f.Encoding = getStrDefault(raw, "encoding", "utf-8")
		_, hasFixed := raw["length"]
		_, hasLengthField := raw["length_field"]
		switch {
		case hasLengthField:
			f.StringMode = StringFieldRef
			f.LengthField = getStr(raw, "length_field")
		case getBool(raw, "length_prefixed"):
			f.StringMode = StringLengthPrefixed
			f.Bits = getIntDefault(raw, "prefix_bits", 8)
		case hasFixed:
			f.StringMode = StringFixed
			f.FixedLength = getInt(raw, "length")
		default:
			f.StringMode = StringDelimited
			f.HasDelimiter = true
			f.Delimiter = byte(getIntDefault(raw, "delimiter", 0))
		}

	case KindArray:
		f.Kind = KindArray
		elemRaw, ok := raw["element_type"].(map[string]any)
		if !ok {
			return nil, newErr(KindSchemaInvalid, path+".element_type", "array field must declare \"element_type\"")
		}
		elem, err := normalizeField(elemRaw, path+".element_type", s)
		if err != nil {
			return nil, err
		}
		f.ElementType = elem

		_, hasCount := raw["count"]
		_, hasCountField := raw["count_field"]
		_, hasLengthPrefixed := raw["length_prefixed"]
		_, hasByteLengthPrefixed := raw["byte_length_prefixed"]
		_, hasEOF := raw["eof_terminated"]
		switch {
		case hasCountField:
			f.ArrayMode = ArrayFieldRef
			f.CountField = getStr(raw, "count_field")
		case hasLengthPrefixed:
			f.ArrayMode = ArrayLengthPrefixed
			f.PrefixBits = getIntDefault(raw, "prefix_bits", 8)
		case hasByteLengthPrefixed:
			f.ArrayMode = ArrayByteLengthPrefixed
			f.PrefixBits = getIntDefault(raw, "prefix_bits", 8)
		case hasEOF:
			f.ArrayMode = ArrayEOFTerminated
		case hasCount:
			f.ArrayMode = ArrayFixedCount
			f.Count = getInt(raw, "count")
		default:
			return nil, newErr(KindSchemaInvalid, path+".kind", "array field must declare one of count, count_field, length_prefixed, byte_length_prefixed, eof_terminated")
		}

	case KindVarlength:
		f.Kind = KindVarlength
		f.VarintKind = VarintKind(getStr(raw, "encoding"))

	case KindTypeRef, "":
		f.Kind = KindTypeRef
		f.TypeName = getStr(raw, "type")

	case KindChoice:
		f.Kind = KindChoice
		choicesRaw, _ := raw["choices"].([]any)
		if len(choicesRaw) == 0 {
			return nil, newErr(KindSchemaInvalid, path+".choices", "choice field must declare a non-empty \"choices\" list")
		}
		for i, cv := range choicesRaw {
			cm, ok := cv.(map[string]any)
			if !ok {
				return nil, newErr(KindSchemaInvalid, fmt.Sprintf("%s.choices[%d]", path, i), "choice candidate must be an object")
			}
			cf, err := normalizeField(cm, fmt.Sprintf("%s.choices[%d]", path, i), s)
			if err != nil {
				return nil, err
			}
			f.Choices = append(f.Choices, cf)
		}

	case KindUnion:
		f.Kind = KindUnion
		ud := &UnionDescriptor{
			DiscriminatorPeekBits: getInt(raw, "discriminator_peek_bits"),
			DiscriminatorField:    getStr(raw, "discriminator_field"),
			Endian:                parseEndianRaw(getStr(raw, "endian")),
			ByteBudgetField:       getStr(raw, "byte_budget_field"),
		}
		variantsRaw, _ := raw["variants"].([]any)
		for i, vv := range variantsRaw {
			vm, ok := vv.(map[string]any)
			if !ok {
				return nil, newErr(KindSchemaInvalid, fmt.Sprintf("%s.variants[%d]", path, i), "variant must be an object")
			}
			typeRaw, ok := vm["type"].(map[string]any)
			if !ok {
				return nil, newErr(KindSchemaInvalid, fmt.Sprintf("%s.variants[%d].type", path, i), "variant must declare \"type\"")
			}
			vType, err := normalizeField(typeRaw, fmt.Sprintf("%s.variants[%d].type", path, i), s)
			if err != nil {
				return nil, err
			}
			ud.Variants = append(ud.Variants, &UnionVariant{
				When:     getStr(vm, "when"),
				Fallback: getBool(vm, "fallback"),
				Type:     vType,
			})
		}
		f.Union = ud

	case KindBackRef:
		f.Kind = KindBackRef
		targetRaw, ok := raw["target"].(map[string]any)
		if !ok {
			return nil, newErr(KindSchemaInvalid, path+".target", "back_reference must declare \"target\"")
		}
		target, err := normalizeField(targetRaw, path+".target", s)
		if err != nil {
			return nil, err
		}
		storageBits := getIntDefault(raw, "storage_bits", 16)
		mask := uint64(1)<<uint(storageBits) - 1
		if rawMask := getIntDefault(raw, "offset_mask", -1); rawMask >= 0 {
			mask = uint64(rawMask)
		}
		f.BackRef = &BackRefSpec{
			StorageBits: storageBits,
			OffsetFrom:  getStrDefault(raw, "offset_from", BackRefFromMessageStart),
			OffsetMask:  mask,
			Target:      target,
		}

	case KindOptional:
		f.Kind = KindOptional
		f.PresentIf = getStr(raw, "present_if")
		innerRaw, ok := raw["inner"].(map[string]any)
		if !ok {
			return nil, newErr(KindSchemaInvalid, path+".inner", "optional field must declare \"inner\"")
		}
		inner, err := normalizeField(innerRaw, path+".inner", s)
		if err != nil {
			return nil, err
		}
		f.Inner = inner

	case KindComputed:
		f.Kind = KindComputed
		f.Computed = &Computed{
			Kind:           ComputedKind(getStr(raw, "compute")),
			Target:         getStr(raw, "target"),
			Offset:         getInt(raw, "offset"),
			FromAfterField: getStr(raw, "from_after_field"),
			ElementType:    getStr(raw, "element_type"),
			Width:          getIntDefault(raw, "bits", 32),
		}

	default:
		return nil, newErr(KindSchemaInvalid, path+".kind", "unknown field kind %q", kind)
	}

	return f, nil
}

func parseEndian(s string, def Endianness) Endianness {
	switch s {
	case "big":
		return BigEndian
	case "little":
		return LittleEndian
	default:
		return def
	}
}

// parseEndianRaw returns "" (unset) when s names neither endianness,
// distinct from parseEndian's schema-default fallback: a union's peek
// discriminator must distinguish "not declared" from "declared big".
func parseEndianRaw(s string) Endianness {
	switch s {
	case "big":
		return BigEndian
	case "little":
		return LittleEndian
	default:
		return ""
	}
}

func parseBitOrder(s string, def BitOrder) BitOrder {
	switch s {
	case "msb_first":
		return MSBFirst
	case "lsb_first":
		return LSBFirst
	default:
		return def
	}
}

func getStr(m map[string]any, key string) string {
	return getStrDefault(m, key, "")
}

func getStrDefault(m map[string]any, key, def string) string {
	v, ok := m[key]
	if !ok {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func getInt(m map[string]any, key string) int {
	return getIntDefault(m, key, 0)
}

func getIntDefault(m map[string]any, key string, def int) int {
	v, ok := m[key]
	if !ok {
		return def
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		n, err := strconv.Atoi(val)
		if err != nil {
			return def
		}
		return n
	default:
		return def
	}
}

func getBool(m map[string]any, key string) bool {
	v, ok := m[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}
