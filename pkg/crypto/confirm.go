// Copyright 2025 Author(s) of MCP Any
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strings"

	"github.com/mcpany/heroku-mcp/pkg/util"
)

const confirmationTokenLength = 48

// ConfirmationToken derives the write-confirmation token for one mutating
// request shape. The token is stateless: the server never stores issued
// tokens, it recomputes and compares. Equivalent requests produce equal
// tokens because the parameter maps are canonicalized before hashing.
func ConfirmationToken(secret, userID, operationID string, pathParams map[string]string, queryParams map[string]any, body any) string {
	payload := strings.Join([]string{
		userID,
		operationID,
		util.StableStringify(pathParams),
		util.StableStringify(queryParams),
		util.StableStringify(body),
	}, "|")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	token := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	if len(token) > confirmationTokenLength {
		token = token[:confirmationTokenLength]
	}
	return token
}

// VerifyConfirmationToken compares a presented token against the expected one
// in constant time.
func VerifyConfirmationToken(expected, presented string) bool {
	if presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) == 1
}
