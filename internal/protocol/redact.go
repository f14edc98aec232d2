// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"encoding/json"
	"strings"
)

const redacted = "[REDACTED]"

// secretKeys are object keys whose values are always secret, wherever they appear.
var secretKeys = map[string]bool{
	"_atomist_api_key": true,
	"apikey":           true,
	"api_key":          true,
	"token":            true,
	"password":         true,
}

// Redact renders a payload as JSON with every secret value masked. Payloads
// that are not JSON are never echoed.
func Redact(payload []byte) string {
	var v interface{}
	if err := json.Unmarshal(payload, &v); err != nil {
		return `"<unparseable payload>"`
	}
	out, err := json.Marshal(redactValue(v, false))
	if err != nil {
		return `"<unparseable payload>"`
	}
	return string(out)
}

// redactValue walks v. inSecrets is true while walking the elements of a
// "secrets" array, whose objects carry their secret under "value".
func redactValue(v interface{}, inSecrets bool) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, child := range t {
			switch {
			case inSecrets && k == "value":
				t[k] = redacted
			case secretKeys[strings.ToLower(k)]:
				if _, isString := child.(string); isString {
					t[k] = redacted
				}
			default:
				t[k] = redactValue(child, k == "secrets")
			}
		}
		return t
	case []interface{}:
		for i, child := range t {
			t[i] = redactValue(child, inSecrets)
		}
		return t
	default:
		return v
	}
}
