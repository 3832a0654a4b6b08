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

// Package hubspot is the reference Adapter implementation against the
// HubSpot CRM v3 object API.
package hubspot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	jsonpatch "github.com/evanphx/json-patch"

	"github.com/etlify/etlify-go/internal/adapter"
	"github.com/etlify/etlify-go/internal/adapter/httpx"
)

const defaultBaseURL = "https://api.hubapi.com"

// Adapter implements etlify.Adapter against HubSpot's CRM v3 objects API.
type Adapter struct {
	client *httpx.Client
}

// Option configures an Adapter.
type Option func(*Adapter)

// New builds a HubSpot Adapter. baseURL defaults to the production HubSpot
// API host; tests override it to point at a fake server.
func New(token string, opts ...httpx.Option) *Adapter {
	clientOpts := append([]httpx.Option{httpx.WithToken(token)}, opts...)
	return &Adapter{client: httpx.New(defaultBaseURL, clientOpts...)}
}

// NewWithBaseURL is the test/integration entrypoint that overrides the host.
func NewWithBaseURL(baseURL, token string, opts ...httpx.Option) *Adapter {
	clientOpts := append([]httpx.Option{httpx.WithToken(token)}, opts...)
	return &Adapter{client: httpx.New(baseURL, clientOpts...)}
}

type filter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

type filterGroup struct {
	Filters []filter `json:"filters"`
}

type searchRequest struct {
	FilterGroups []filterGroup `json:"filterGroups"`
	Limit        int           `json:"limit"`
}

type searchResult struct {
	Total   int              `json:"total"`
	Results []map[string]any `json:"results"`
}

type upsertBody struct {
	Properties map[string]any `json:"properties"`
}

type createResponse struct {
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
}

// Upsert finds-or-creates an object of objectType carrying payload. When
// idProperty is set and payload has a non-empty value for it, a search is
// attempted first; a hit patches the existing object, a miss (including a
// search-level 404, which HubSpot treats as "object type has no matching
// rows yet") falls through to create.
func (a *Adapter) Upsert(ctx context.Context, payload map[string]any, idProperty, objectType string) (string, error) {
	properties := make(map[string]any, len(payload))
	for k, v := range payload {
		properties[k] = v
	}

	var existingID string
	var existingProperties map[string]any

	if idProperty != "" {
		if rawValue, ok := payload[idProperty]; ok {
			if value := fmt.Sprintf("%v", rawValue); value != "" {
				found, existing, err := a.search(ctx, objectType, idProperty, value)
				if err != nil {
					return "", err
				}
				existingID = found
				existingProperties = existing
			}
		}
	}

	// The id property must survive onto the remote record even though the
	// search above used it purely as a lookup key.
	if idProperty != "" {
		if v, ok := payload[idProperty]; ok {
			properties[idProperty] = v
		}
	}

	if existingID != "" {
		body, err := patchBody(existingProperties, properties)
		if err != nil {
			return "", err
		}

		status, respBody, err := a.client.Do(ctx, http.MethodPatch, fmt.Sprintf("/crm/v3/objects/%s/%s", objectType, existingID), body)
		if err != nil {
			return "", err
		}
		if status < 200 || status >= 300 {
			return "", adapter.NewFromStatus(status, string(respBody))
		}
		return existingID, nil
	}

	body, err := json.Marshal(upsertBody{Properties: properties})
	if err != nil {
		return "", fmt.Errorf("failed to marshal hubspot payload: %w", err)
	}

	status, respBody, err := a.client.Do(ctx, http.MethodPost, fmt.Sprintf("/crm/v3/objects/%s", objectType), body)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", adapter.NewFromStatus(status, string(respBody))
	}

	var created createResponse
	if err := json.Unmarshal(respBody, &created); err != nil {
		return "", fmt.Errorf("failed to decode hubspot create response: %w", err)
	}
	if created.ID == "" {
		return "", &adapter.Error{Kind: adapter.KindAPIError, StatusCode: status, Message: "create response missing id field"}
	}

	return created.ID, nil
}

// patchBody computes a JSON merge patch (RFC 7386) between the properties
// HubSpot already has on record and the properties this attempt wants to
// write, so the PATCH body carries only the fields that actually changed.
func patchBody(existing, desired map[string]any) ([]byte, error) {
	existingJSON, err := json.Marshal(upsertBody{Properties: existing})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal existing hubspot properties: %w", err)
	}
	desiredJSON, err := json.Marshal(upsertBody{Properties: desired})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal desired hubspot properties: %w", err)
	}

	patch, err := jsonpatch.CreateMergePatch(existingJSON, desiredJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to diff hubspot properties: %w", err)
	}
	return patch, nil
}

// search looks up an existing object by idProperty=value. An email lookup
// on the "email" property additionally lowercases the value and adds a
// CONTAINS_TOKEN filter against additional_emails, plus a fallback filter
// with "+" encoded as "%2B" -- all three filter groups are emitted
// unconditionally, regardless of whether value actually contains a "+"
// (see DESIGN.md for why this is not made conditional).
func (a *Adapter) search(ctx context.Context, objectType, idProperty, value string) (string, map[string]any, error) {
	req := searchRequest{Limit: 1}

	if idProperty == "email" {
		lowered := strings.ToLower(value)
		plusEncoded := strings.ReplaceAll(lowered, "+", "%2B")

		req.FilterGroups = []filterGroup{
			{Filters: []filter{{PropertyName: idProperty, Operator: "EQ", Value: lowered}}},
			{Filters: []filter{{PropertyName: "additional_emails", Operator: "CONTAINS_TOKEN", Value: lowered}}},
			{Filters: []filter{{PropertyName: idProperty, Operator: "EQ", Value: plusEncoded}}},
		}
	} else {
		req.FilterGroups = []filterGroup{
			{Filters: []filter{{PropertyName: idProperty, Operator: "EQ", Value: value}}},
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal hubspot search request: %w", err)
	}

	status, respBody, err := a.client.Do(ctx, http.MethodPost, fmt.Sprintf("/crm/v3/objects/%s/search", objectType), body)
	if err != nil {
		var adapterErr *adapter.Error
		if asAdapterError(err, &adapterErr) && adapterErr.Kind == adapter.KindNotFound {
			return "", nil, nil
		}
		return "", nil, err
	}

	if status == http.StatusNotFound {
		return "", nil, nil
	}
	if status < 200 || status >= 300 {
		return "", nil, adapter.NewFromStatus(status, string(respBody))
	}

	var result searchResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", nil, fmt.Errorf("failed to decode hubspot search response: %w", err)
	}

	if len(result.Results) == 0 {
		return "", nil, nil
	}

	id, _ := result.Results[0]["id"].(string)
	properties, _ := result.Results[0]["properties"].(map[string]any)
	return id, properties, nil
}

// Delete removes a HubSpot object. A 404 is reported as (false, nil) per
// the Adapter contract.
func (a *Adapter) Delete(ctx context.Context, crmID, objectType string) (bool, error) {
	status, respBody, err := a.client.Do(ctx, http.MethodDelete, fmt.Sprintf("/crm/v3/objects/%s/%s", objectType, crmID), nil)
	if err != nil {
		var adapterErr *adapter.Error
		if asAdapterError(err, &adapterErr) && adapterErr.Kind == adapter.KindNotFound {
			return false, nil
		}
		return false, err
	}

	if status == http.StatusNotFound {
		return false, nil
	}
	if status < 200 || status >= 300 {
		return false, adapter.NewFromStatus(status, string(respBody))
	}

	return true, nil
}

func asAdapterError(err error, target **adapter.Error) bool {
	if e, ok := err.(*adapter.Error); ok {
		*target = e
		return true
	}
	return false
}
