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

package digest

import (
	"encoding/json"
	"testing"
)

func TestSHA256CanonicalKeyOrderIndependence(t *testing.T) {
	p1 := map[string]any{"email": "a@b.com", "name": "Ada", "active": true}
	p2 := map[string]any{"active": true, "name": "Ada", "email": "a@b.com"}

	d1, err := SHA256Canonical(p1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d2, err := SHA256Canonical(p2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if d1 != d2 {
		t.Fatalf("expected equal digests for reordered keys, got %q and %q", d1, d2)
	}
}

func TestSHA256CanonicalNestedValues(t *testing.T) {
	p1 := map[string]any{
		"address": map[string]any{"city": "Berlin", "zip": "10115"},
		"tags":    []any{"a", "b"},
	}
	p2 := map[string]any{
		"tags":    []any{"a", "b"},
		"address": map[string]any{"zip": "10115", "city": "Berlin"},
	}

	d1, err := SHA256Canonical(p1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d2, err := SHA256Canonical(p2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if d1 != d2 {
		t.Fatalf("expected equal digests for nested reordering, got %q and %q", d1, d2)
	}
}

func TestSHA256CanonicalDetectsRealDifference(t *testing.T) {
	p1 := map[string]any{"email": "a@b.com"}
	p2 := map[string]any{"email": "a@c.com"}

	d1, _ := SHA256Canonical(p1)
	d2, _ := SHA256Canonical(p2)

	if d1 == d2 {
		t.Fatalf("expected different digests for different payloads")
	}
}

func TestSHA256CanonicalPreservesNumericAndBooleanTypes(t *testing.T) {
	withInt := map[string]any{"count": 1}
	withBool := map[string]any{"count": true}

	dInt, _ := SHA256Canonical(withInt)
	dBool, _ := SHA256Canonical(withBool)

	if dInt == dBool {
		t.Fatalf("expected int(1) and bool(true) payloads to hash differently")
	}
}

func TestSHA256CanonicalDistinguishesIntFromEquivalentFloat(t *testing.T) {
	withInt := map[string]any{"price": 1}
	withFloat := map[string]any{"price": 1.0}

	dInt, err := SHA256Canonical(withInt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dFloat, err := SHA256Canonical(withFloat)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if dInt == dFloat {
		t.Fatalf("expected int(1) and float64(1.0) payloads to hash differently, got %q for both", dInt)
	}
}

func TestSHA256CanonicalJSONNumberIsKeptVerbatim(t *testing.T) {
	p1 := map[string]any{"price": json.Number("1")}
	p2 := map[string]any{"price": json.Number("1.0")}

	d1, err := SHA256Canonical(p1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d2, err := SHA256Canonical(p2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if d1 == d2 {
		t.Fatalf("expected json.Number(\"1\") and json.Number(\"1.0\") to hash differently")
	}
}

func TestSHA256CanonicalIsPure(t *testing.T) {
	payload := map[string]any{"a": 1, "b": []any{1, 2, 3}}

	first, err := SHA256Canonical(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 5; i++ {
		next, err := SHA256Canonical(payload)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if next != first {
			t.Fatalf("expected stable digest across repeated calls, got %q then %q", first, next)
		}
	}
}
