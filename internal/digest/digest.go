/*
Copyright 2025 The KCP Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package digest computes deterministic fingerprints of CRM payloads so the
// Synchronizer can tell whether a record's remote mirror is already
// up to date without issuing a remote call.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Strategy is a pure function from payload to fingerprint: the same input
// map MUST always produce the same output string, regardless of Go map
// iteration order.
type Strategy func(payload map[string]any) (string, error)

// SHA256Canonical is the default Strategy. It recursively sorts map keys,
// tags numeric leaves so int and float values are never marshaled to the
// same bytes, re-encodes the payload through encoding/json, and hashes the
// result -- so that two payloads differing only in key insertion order
// produce equal digests, while differing only in numeric type (1 vs 1.0)
// produce different ones.
func SHA256Canonical(payload map[string]any) (string, error) {
	canonical, err := canonicalize(payload)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize payload: %w", err)
	}

	sum := sha256.Sum256(canonical)

	return hex.EncodeToString(sum[:]), nil
}

// canonicalize walks the value recursively and produces a byte sequence
// that depends only on the value's content, not on map key order. Maps are
// rebuilt as map[string]any with every value normalized recursively, and
// key order in the output comes from json.Marshal, which sorts map keys --
// this also converts nested map[any]any shapes that a hand-built payload
// might contain alongside map[string]any.
func canonicalize(value any) ([]byte, error) {
	normalized, err := normalize(value)
	if err != nil {
		return nil, err
	}

	return json.Marshal(normalized)
}

func normalize(value any) (any, error) {
	switch v := value.(type) {
	case map[string]any:
		return normalizeStringMap(v)
	case map[any]any:
		converted := make(map[string]any, len(v))
		for k, val := range v {
			key := fmt.Sprintf("%v", k)
			converted[key] = val
		}
		return normalizeStringMap(converted)
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			normalized, err := normalize(elem)
			if err != nil {
				return nil, err
			}
			out[i] = normalized
		}
		return out, nil
	default:
		if n, ok := normalizeNumber(value); ok {
			return n, nil
		}
		return v, nil
	}
}

// normalizeNumber tags every numeric leaf with a json.Number whose text
// distinguishes integers from floats, so that encoding/json -- which
// otherwise marshals both int(1) and float64(1.0) as the literal `1` --
// round-trips them as distinct canonical bytes instead of silently
// colliding. json.Number passed in directly (e.g. from a caller that
// decoded upstream JSON with UseNumber) is kept verbatim, preserving
// whatever distinction its original source text already carried.
func normalizeNumber(value any) (json.Number, bool) {
	switch v := value.(type) {
	case json.Number:
		return v, true
	case int:
		return json.Number(strconv.FormatInt(int64(v), 10)), true
	case int8:
		return json.Number(strconv.FormatInt(int64(v), 10)), true
	case int16:
		return json.Number(strconv.FormatInt(int64(v), 10)), true
	case int32:
		return json.Number(strconv.FormatInt(int64(v), 10)), true
	case int64:
		return json.Number(strconv.FormatInt(v, 10)), true
	case uint:
		return json.Number(strconv.FormatUint(uint64(v), 10)), true
	case uint8:
		return json.Number(strconv.FormatUint(uint64(v), 10)), true
	case uint16:
		return json.Number(strconv.FormatUint(uint64(v), 10)), true
	case uint32:
		return json.Number(strconv.FormatUint(uint64(v), 10)), true
	case uint64:
		return json.Number(strconv.FormatUint(v, 10)), true
	case float32:
		return json.Number(formatFloatDistinctFromInt(float64(v), 32)), true
	case float64:
		return json.Number(formatFloatDistinctFromInt(v, 64)), true
	default:
		return "", false
	}
}

// formatFloatDistinctFromInt formats f with the shortest round-tripping
// representation, then guarantees the result contains a decimal point --
// strconv.FormatFloat(1.0, 'f', -1, 64) yields "1", identical to an int's
// text, which is exactly the collision this function exists to prevent.
func formatFloatDistinctFromInt(f float64, bitSize int) string {
	s := strconv.FormatFloat(f, 'f', -1, bitSize)
	for i := 0; i < len(s); i++ {
		if s[i] == '.' || s[i] == 'e' || s[i] == 'E' {
			return s
		}
	}
	return s + ".0"
}

func normalizeStringMap(m map[string]any) (any, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// The result is a plain map; its encoded key order is the one
	// encoding/json gives map[string]any (sorted), and normalizing each
	// value here makes nested normalization recursive.
	out := make(map[string]any, len(m))
	for _, k := range keys {
		normalized, err := normalize(m[k])
		if err != nil {
			return nil, err
		}
		out[k] = normalized
	}

	return out, nil
}
