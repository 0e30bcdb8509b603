// Copyright 2025 Author(s) of MCP Any
// SPDX-License-Identifier: Apache-2.0

package util

import "regexp"

// RedactedPlaceholder replaces the value of any sensitive object key.
const RedactedPlaceholder = "[REDACTED]"

var (
	sensitiveKeyPattern    = regexp.MustCompile(`(?i)token|authorization|password|secret`)
	sensitiveHeaderPattern = regexp.MustCompile(`(?i)^(authorization|cookie|set-cookie|x-api-key)$`)
)

// IsSensitiveKey reports whether an object key suggests its value carries a
// credential or other secret material.
func IsSensitiveKey(key string) bool {
	return sensitiveKeyPattern.MatchString(key)
}

// IsSensitiveHeader reports whether the header must be stripped from responses
// before they are returned to the caller.
func IsSensitiveHeader(name string) bool {
	return sensitiveHeaderPattern.MatchString(name)
}

// RedactValue walks v and replaces the value of every sensitive object key, at
// any nesting depth, with RedactedPlaceholder. Arrays are traversed in order.
// The input is modified in place where possible and also returned.
func RedactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			if IsSensitiveKey(k) {
				val[k] = RedactedPlaceholder
				continue
			}
			val[k] = RedactValue(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = RedactValue(item)
		}
		return val
	default:
		return v
	}
}
