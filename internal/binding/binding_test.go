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

package binding

import "testing"

func TestEffectiveTableNameDerivesFromModelName(t *testing.T) {
	b := Binding{ModelName: "User"}
	if got := b.EffectiveTableName(); got != "users" {
		t.Fatalf("expected users, got %q", got)
	}
}

func TestEffectiveTableNameHonorsOverride(t *testing.T) {
	b := Binding{ModelName: "User", TableName: "app_users"}
	if got := b.EffectiveTableName(); got != "app_users" {
		t.Fatalf("expected app_users, got %q", got)
	}
}

func TestSetRegisterAndGet(t *testing.T) {
	s := NewSet()
	s.Register("User", "HubSpot", Binding{IDProperty: "email"})

	b, ok := s.Get("User", "hubspot")
	if !ok {
		t.Fatalf("expected binding to be found regardless of CRM name casing")
	}
	if b.IDProperty != "email" {
		t.Fatalf("expected IDProperty email, got %q", b.IDProperty)
	}
}

func TestSetMustGetMissingIsError(t *testing.T) {
	s := NewSet()
	if _, err := s.MustGet("User", "hubspot"); err == nil {
		t.Fatalf("expected error for unregistered binding")
	}
}

func TestSetDoesNotInheritAcrossModels(t *testing.T) {
	s := NewSet()
	s.Register("User", "hubspot", Binding{})

	if _, ok := s.Get("AdminUser", "hubspot"); ok {
		t.Fatalf("expected STI-like subclass to not inherit parent's binding")
	}
}

func TestModelsForCRM(t *testing.T) {
	s := NewSet()
	s.Register("User", "hubspot", Binding{})
	s.Register("Order", "hubspot", Binding{})
	s.Register("User", "airtable", Binding{})

	models := s.ModelsForCRM("hubspot")
	if len(models) != 2 || models[0] != "Order" || models[1] != "User" {
		t.Fatalf("unexpected models for hubspot: %v", models)
	}
}
