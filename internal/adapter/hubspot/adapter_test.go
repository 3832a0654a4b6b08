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

package hubspot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestUpsertCreatesWhenSearchMisses(t *testing.T) {
	var sawSearchFilters searchRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/crm/v3/objects/contacts/search":
			_ = json.NewDecoder(r.Body).Decode(&sawSearchFilters)
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(searchResult{Results: nil})
		case r.Method == http.MethodPost && r.URL.Path == "/crm/v3/objects/contacts":
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(createResponse{ID: "crm-1"})
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	a := NewWithBaseURL(server.URL, "token")
	id, err := a.Upsert(context.Background(), map[string]any{"email": "A@B.com"}, "email", "contacts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "crm-1" {
		t.Fatalf("expected crm-1, got %q", id)
	}

	if len(sawSearchFilters.FilterGroups) != 3 {
		t.Fatalf("expected 3 filter groups (primary, additional_emails, +encoded), got %d", len(sawSearchFilters.FilterGroups))
	}
	if sawSearchFilters.FilterGroups[0].Filters[0].Value != "a@b.com" {
		t.Fatalf("expected lowercased email in first filter, got %q", sawSearchFilters.FilterGroups[0].Filters[0].Value)
	}
}

func TestUpsertPatchesOnSearchHit(t *testing.T) {
	var patchBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/crm/v3/objects/contacts/search":
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(searchResult{Results: []map[string]any{{
				"id":         "crm-existing",
				"properties": map[string]any{"email": "a@b.com", "name": "Old Name"},
			}}})
		case r.Method == http.MethodPatch && r.URL.Path == "/crm/v3/objects/contacts/crm-existing":
			_ = json.NewDecoder(r.Body).Decode(&patchBody)
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(createResponse{ID: "crm-existing"})
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	a := NewWithBaseURL(server.URL, "token")
	id, err := a.Upsert(context.Background(), map[string]any{"email": "a@b.com", "name": "New Name"}, "email", "contacts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "crm-existing" {
		t.Fatalf("expected crm-existing, got %q", id)
	}

	properties, _ := patchBody["properties"].(map[string]any)
	if properties["name"] != "New Name" {
		t.Fatalf("expected changed field name in patch body, got %+v", patchBody)
	}
	if _, unchanged := properties["email"]; unchanged {
		t.Fatalf("expected unchanged field email to be omitted from merge patch, got %+v", patchBody)
	}
}

func TestUpsertTreats404OnSearchAsMiss(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/crm/v3/objects/contacts/search":
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPost && r.URL.Path == "/crm/v3/objects/contacts":
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(createResponse{ID: "crm-2"})
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	a := NewWithBaseURL(server.URL, "token")
	id, err := a.Upsert(context.Background(), map[string]any{"email": "x@y.com"}, "email", "contacts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "crm-2" {
		t.Fatalf("expected crm-2, got %q", id)
	}
}

func TestUpsertCreateWithoutIDIsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/crm/v3/objects/contacts/search" {
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(searchResult{})
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"properties": map[string]any{}})
	}))
	defer server.Close()

	a := NewWithBaseURL(server.URL, "token")
	_, err := a.Upsert(context.Background(), map[string]any{"email": "x@y.com"}, "email", "contacts")
	if err == nil {
		t.Fatalf("expected an error when create response lacks an id")
	}
}

func TestDeleteReturnsFalseOn404(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	a := NewWithBaseURL(server.URL, "token")
	ok, err := a.Delete(context.Background(), "crm-1", "contacts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected false on 404")
	}
}

func TestDeleteReturnsTrueOn2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	a := NewWithBaseURL(server.URL, "token")
	ok, err := a.Delete(context.Background(), "crm-1", "contacts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected true on 2xx")
	}
}
