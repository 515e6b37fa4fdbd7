// Copyright (c) 2026 BinSchema Authors
// SPDX-License-Identifier: MIT

// Package schema implements a declarative, bit-granular binary wire
// format toolkit: a schema model and validator, a bit-stream codec
// runtime, and a schema-directed encode/decode engine.
//
// A document is parsed with ParseSchema (JSON5) or ParseSchemaYAML
// (YAML) into a *Schema, checked with Validate, then driven against
// concrete values with Encode, Decode (or DecodeStream, for a
// non-seekable source) and CalculateSize.
package schema
