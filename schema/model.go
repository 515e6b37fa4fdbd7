// Copyright (c) 2026 BinSchema Authors
// SPDX-License-Identifier: MIT

package schema

import "math/big"

// Schema is a parsed, normalized binschema document: a named set of
// type definitions plus the name of the entry-point type used by
// Encode/Decode at the top level.
type Schema struct {
	Name        string
	Description string
	Endian      Endianness
	BitOrder    BitOrder
	Root        string
	Types       map[string]*TypeDef
	Config      Config
}

// Config carries the ambient, non-wire-format knobs this package
// exposes. NonSeekableBuffer selects DecodeStream's fallback for random
// access on a non-seekable source. MaxNestingDepth and TreatWarnAsError
// are stored with the schema but not read by Encode, Decode or
// DecodeStream: no nesting-depth limit is enforced, and warnings never
// turn into errors.
type Config struct {
	MaxNestingDepth   int
	TreatWarnAsError  bool
	NonSeekableBuffer bool
}

// DefaultConfig returns the Config used when none is supplied.
func DefaultConfig() Config {
	return Config{
		MaxNestingDepth:   64,
		TreatWarnAsError:  false,
		NonSeekableBuffer: true,
	}
}

// TypeDef is a named construct: a sequence of fields, optionally
// followed by lazily-decoded instances.
type TypeDef struct {
	Name      string
	Fields    []*Field
	Instances []*Instance
}

// FieldKind is the closed set of field constructs a binschema document
// may declare.
type FieldKind string

const (
	KindBit            FieldKind = "bit"             // fixed-width integer, arbitrary bit width
	KindBitfield       FieldKind = "bitfield"         // container of sub-fields packed below byte granularity
	KindString         FieldKind = "string"           // fixed, length-prefixed, length-referenced, or delimited text
	KindArray          FieldKind = "array"            // fixed, length-prefixed, field-referenced, byte-length-prefixed, or eof-terminated sequence
	KindVarlength      FieldKind = "varlength"        // DER/LEB128/EBML/VLQ variable-length integer
	KindTypeRef        FieldKind = "type_ref"         // nested named type
	KindChoice         FieldKind = "choice"           // peek-or-const dispatch among typed alternatives, no wire tag
	KindUnion          FieldKind = "union"            // discriminated union of named variants
	KindBackRef        FieldKind = "back_reference"   // compression-pointer style back reference
	KindOptional       FieldKind = "optional"         // present-if-condition wrapper around an inner field
	KindComputed       FieldKind = "computed"         // length_of/count_of/position_of/crc32_of/sum_of_sizes/sum_of_type_sizes
)

// Endianness selects byte order for multi-byte integer and float
// fields; BitOrder (see bitstream.go) separately selects bit order
// within a byte for sub-byte fields.
type Field struct {
	Name string
	Kind FieldKind
	Path string // dotted schema path, set during normalization, used in error messages

	// KindBit / numeric fields
	Bits     int
	Signed   bool
	Float    bool
	Endian   Endianness
	BitOrder BitOrder
	Const    *big.Int // non-nil: field always encodes this value regardless of input, used as an Inline Choice candidate's discriminator

	// KindBitfield
	SubFields []*Field

	// KindString
	StringMode   StringMode
	FixedLength  int
	LengthField  string // field_referenced: name of a sibling integer field holding the byte length
	Delimiter    byte
	HasDelimiter bool
	Encoding     string // "utf-8" or "ascii"

	// KindArray
	ArrayMode   ArrayMode
	Count       int
	CountField  string
	PrefixBits  int // wire width of the count/byte-length prefix for length_prefixed and byte_length_prefixed
	ElementType *Field

	// KindVarlength
	VarintKind VarintKind

	// KindTypeRef
	TypeName string

	// KindChoice: candidate types, peeked in order against a shared
	// const-valued discriminator field (spec.md §3.3/§4.E.6); no variant
	// tag is written to the wire, unlike KindUnion.
	Choices []*Field

	// KindUnion
	Union *UnionDescriptor

	// KindBackRef
	BackRef *BackRefSpec

	// KindOptional
	PresentIf string
	Inner     *Field

	// KindComputed
	Computed *Computed

	// shared modifiers
	Condition string // "when" guard; empty means always present (non-choice fields)
}

// StringMode is the closed set of ways a string field's length is
// determined.
type StringMode string

const (
	StringFixed         StringMode = "fixed"
	StringLengthPrefixed StringMode = "length_prefixed"
	StringFieldRef       StringMode = "field_referenced"
	StringDelimited      StringMode = "delimited"
)

// ArrayMode is the closed set of ways an array field's element count
// or extent is determined.
type ArrayMode string

const (
	ArrayFixedCount         ArrayMode = "fixed"                 // a literal Count
	ArrayLengthPrefixed     ArrayMode = "length_prefixed"        // a PrefixBits element count written inline before the elements
	ArrayFieldRef           ArrayMode = "field_referenced"        // element count taken from a sibling field named by CountField
	ArrayByteLengthPrefixed ArrayMode = "byte_length_prefixed"    // a PrefixBits byte count written inline, elements decoded until that many bytes are consumed
	ArrayEOFTerminated      ArrayMode = "eof_terminated"          // elements decoded until the stream (or enclosing byte budget) is exhausted
)

// Computed describes a field whose value is derived from other fields
// rather than read from or written directly to the stream, per
// spec.md §3.4.
type Computed struct {
	Kind            ComputedKind
	Target          string // path of the field/type this computation measures
	Offset          int    // added to the raw computed value before encode; decode returns the wire value unchanged
	FromAfterField  string // when set, measurement starts immediately after this sibling field instead of from the construct start
	ElementType     string // for sum_of_type_sizes: restrict summation to elements of this type
	Width           int    // bit width of the computed field's own wire representation
}

// ComputedKind is the closed set of computed-field derivations.
type ComputedKind string

const (
	ComputedLengthOf       ComputedKind = "length_of"
	ComputedCountOf        ComputedKind = "count_of"
	ComputedPositionOf     ComputedKind = "position_of"
	ComputedCRC32Of        ComputedKind = "crc32_of"
	ComputedSumOfSizes     ComputedKind = "sum_of_sizes"
	ComputedSumOfTypeSizes ComputedKind = "sum_of_type_sizes"
)

// Instance is a lazily-decoded, position-addressed field on a type,
// per spec.md §3.5: accessing it for the first time seeks to Position
// within the already-decoded buffer, decodes Type, and restores the
// reader's prior position.
type Instance struct {
	Name     string
	Position string // expression evaluated against the enclosing value's context
	Size     string // optional byte-extent expression; parsed and kept, but InstanceSet.Get does not evaluate it, so Type is decoded against the whole buffer
	Type     *Field
}

// UnionDescriptor is a discriminated union: a discriminator obtained
// either by peeking ahead in the stream or by reading a sibling field,
// matched against each variant's When expression in order, with an
// optional fallback variant and an optional byte-budget sub-stream.
type UnionDescriptor struct {
	DiscriminatorPeekBits int        // > 0: peek this many bits without consuming
	DiscriminatorField    string     // non-empty: resolve this sibling field instead of peeking
	Endian                Endianness // byte order for a multi-byte peek discriminator; "" if not declared (required for 16/32-bit peeks)
	Variants              []*UnionVariant
	ByteBudgetField       string // non-empty: this many bytes (from a sibling field) bound each variant's sub-stream
}

// UnionVariant is one arm of a discriminated union.
type UnionVariant struct {
	When     string // expression over the discriminator value; empty + Fallback means default arm
	Fallback bool
	Type     *Field
}

// BackRefSpec describes a compression-pointer style back reference:
// on encode, repeated values are deduplicated against a dictionary
// keyed by their canonical encoded bytes and replaced with an offset
// pointer once already-seen; on decode, pointers are followed with a
// visited-offset set guarding against cycles.
type BackRefSpec struct {
	StorageBits int    // wire width of the offset/pointer value
	OffsetFrom  string // BackRefFromMessageStart or BackRefFromCurrentPosition
	OffsetMask  uint64 // mask applied to the raw wire value before offset extraction (e.g. DNS-style top two bits reserved)
	Target      *Field // the type pointed to, used to decode the pointee once dereferenced
}

// OffsetFrom anchors for BackRefSpec: a pointer is either an absolute
// byte offset from the start of the message being encoded/decoded, or a
// backward distance from the position the pointer field itself occupies
// (DEFLATE-style).
const (
	BackRefFromMessageStart    = "message_start"
	BackRefFromCurrentPosition = "current_position"
)
