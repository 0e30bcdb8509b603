// Copyright 2025 Author(s) of MCP Any
// SPDX-License-Identifier: Apache-2.0

package util //nolint:revive,nolintlint // Package name 'util' is common in this codebase

import (
	"encoding/json"
	"sort"
	"strings"
)

// StableStringify serializes v into a deterministic JSON string: object keys
// are emitted in ascending order, array order is preserved, and nil values
// render as the literal "null". The output is suitable as an HMAC payload or
// cache key because equivalent values always produce identical bytes.
func StableStringify(v any) string {
	var b strings.Builder
	stableAppend(&b, v)
	return b.String()
}

func stableAppend(b *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			writeJSONScalar(b, k)
			b.WriteByte(':')
			stableAppend(b, val[k])
		}
		b.WriteByte('}')
	case map[string]string:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			writeJSONScalar(b, k)
			b.WriteByte(':')
			writeJSONScalar(b, val[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			stableAppend(b, item)
		}
		b.WriteByte(']')
	case string, bool, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		writeJSONScalar(b, val)
	default:
		// Structs and typed maps: round-trip through encoding/json so the
		// generic cases above see plain maps and slices.
		raw, err := json.Marshal(val)
		if err != nil {
			b.WriteString("null")
			return
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			b.WriteString("null")
			return
		}
		stableAppend(b, generic)
	}
}

func writeJSONScalar(b *strings.Builder, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		b.WriteString("null")
		return
	}
	b.Write(raw)
}
