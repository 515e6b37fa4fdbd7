// Copyright (c) 2026 BinSchema Authors
// SPDX-License-Identifier: MIT

package schema

import (
	"fmt"
	"math/big"
)

// asUint64 coerces a decoded/user-supplied value into a uint64 for
// writing to the wire. Accepted shapes are *big.Int (non-negative),
// uint64, int64, int and uint32.
func asUint64(v any) (uint64, error) {
	switch val := v.(type) {
	case *big.Int:
		if val.Sign() < 0 {
			return 0, fmt.Errorf("expected a non-negative integer value, got %s", val.String())
		}
		return val.Uint64(), nil
	case uint64:
		return val, nil
	case int64:
		return uint64(val), nil
	case int:
		return uint64(val), nil
	case uint32:
		return uint64(val), nil
	case nil:
		return 0, fmt.Errorf("expected an integer value, got nil")
	default:
		return 0, fmt.Errorf("expected an integer value, got %T", v)
	}
}

func bigFromInt(v int64) *big.Int { return big.NewInt(v) }

func asInt64(v any) (int64, error) {
	switch val := v.(type) {
	case *big.Int:
		return val.Int64(), nil
	case int64:
		return val, nil
	case int:
		return int64(val), nil
	default:
		u, err := asUint64(v)
		return int64(u), err
	}
}

func asFloat(v any) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case *big.Int:
		f := new(big.Float).SetInt(val)
		out, _ := f.Float64()
		return out, nil
	default:
		return 0, fmt.Errorf("expected a float value, got %T", v)
	}
}

func asString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected a string value, got %T", v)
	}
	return s, nil
}

func asArray(v any) ([]any, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected an array value, got %T", v)
	}
	return arr, nil
}

func asMap(v any) (map[string]any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a struct value, got %T", v)
	}
	return m, nil
}

// putUint writes v into an n-byte big/little-endian buffer.
func putUint(v uint64, n int, endian Endianness) []byte {
	buf := make([]byte, n)
	if endian == LittleEndian {
		for i := 0; i < n; i++ {
			buf[i] = byte(v >> (8 * i))
		}
	} else {
		for i := 0; i < n; i++ {
			buf[n-1-i] = byte(v >> (8 * i))
		}
	}
	return buf
}

func getUint(buf []byte, endian Endianness) uint64 {
	var v uint64
	if endian == LittleEndian {
		for i := len(buf) - 1; i >= 0; i-- {
			v = (v << 8) | uint64(buf[i])
		}
	} else {
		for i := 0; i < len(buf); i++ {
			v = (v << 8) | uint64(buf[i])
		}
	}
	return v
}
