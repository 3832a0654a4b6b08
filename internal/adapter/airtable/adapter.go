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

// Package airtable is the reference Adapter implementation against the
// Airtable v0 REST API.
package airtable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/etlify/etlify-go/internal/adapter"
	"github.com/etlify/etlify-go/internal/adapter/httpx"
)

const defaultBaseURL = "https://api.airtable.com"

// Adapter implements etlify.Adapter against one Airtable base/table.
type Adapter struct {
	client *httpx.Client
	baseID string
	table  string
}

// New builds an Airtable Adapter targeting baseID/table.
func New(baseID, table, token string, opts ...httpx.Option) *Adapter {
	clientOpts := append([]httpx.Option{httpx.WithToken(token)}, opts...)
	return &Adapter{
		client: httpx.New(defaultBaseURL, clientOpts...),
		baseID: baseID,
		table:  table,
	}
}

// NewWithBaseURL is the test/integration entrypoint that overrides the host.
func NewWithBaseURL(baseURL, baseID, table, token string, opts ...httpx.Option) *Adapter {
	clientOpts := append([]httpx.Option{httpx.WithToken(token)}, opts...)
	return &Adapter{
		client: httpx.New(baseURL, clientOpts...),
		baseID: baseID,
		table:  table,
	}
}

// buildRecordBody renders {"fields": {...}} by setting the whole fields
// map as a single raw value, rather than round-tripping it through a
// struct -- the field set is caller-defined and arbitrarily shaped.
func buildRecordBody(fields map[string]any) ([]byte, error) {
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal airtable fields: %w", err)
	}
	return sjson.SetRawBytes([]byte("{}"), "fields", fieldsJSON)
}

// Upsert finds-or-creates a record in the configured table. objectType is
// accepted for Adapter-interface symmetry with HubSpot but ignored: an
// Airtable Adapter is bound to one base/table at construction time.
func (a *Adapter) Upsert(ctx context.Context, payload map[string]any, idProperty, objectType string) (string, error) {
	fields := make(map[string]any, len(payload))
	for k, v := range payload {
		fields[k] = v
	}

	var existingID string

	if idProperty != "" {
		if rawValue, ok := payload[idProperty]; ok {
			formula, err := formulaEquals(idProperty, rawValue)
			if err != nil {
				return "", err
			}

			found, err := a.lookup(ctx, formula)
			if err != nil {
				return "", err
			}
			existingID = found
		}
	}

	body, err := buildRecordBody(fields)
	if err != nil {
		return "", err
	}

	if existingID != "" {
		status, respBody, err := a.client.Do(ctx, http.MethodPatch, fmt.Sprintf("/v0/%s/%s/%s", a.baseID, a.table, existingID), body)
		if err != nil {
			return "", err
		}
		if status < 200 || status >= 300 {
			return "", adapter.NewFromStatus(status, string(respBody))
		}
		return existingID, nil
	}

	status, respBody, err := a.client.Do(ctx, http.MethodPost, fmt.Sprintf("/v0/%s/%s", a.baseID, a.table), body)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", adapter.NewFromStatus(status, string(respBody))
	}

	created := gjson.GetBytes(respBody, "id").String()
	if created == "" {
		return "", &adapter.Error{Kind: adapter.KindAPIError, StatusCode: status, Message: "create response missing id field"}
	}

	return created, nil
}

func (a *Adapter) lookup(ctx context.Context, formula string) (string, error) {
	query := url.Values{}
	query.Set("filterByFormula", formula)
	query.Set("maxRecords", "1")
	query.Set("pageSize", "1")

	path := fmt.Sprintf("/v0/%s/%s?%s", a.baseID, a.table, query.Encode())

	status, respBody, err := a.client.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound {
		return "", nil
	}
	if status < 200 || status >= 300 {
		return "", adapter.NewFromStatus(status, string(respBody))
	}

	id := gjson.GetBytes(respBody, "records.0.id").String()
	return id, nil
}

// Delete removes a record. A 404 is reported as (false, nil).
func (a *Adapter) Delete(ctx context.Context, crmID, objectType string) (bool, error) {
	status, respBody, err := a.client.Do(ctx, http.MethodDelete, fmt.Sprintf("/v0/%s/%s/%s", a.baseID, a.table, crmID), nil)
	if err != nil {
		if errors.Is(err, adapter.ErrNotFound) {
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

// formulaEquals renders an Airtable filterByFormula expression for
// "{field} = value". Field names containing '}' are sanitized, string
// values escape single quotes, booleans render as TRUE()/FALSE(), numerics
// render unquoted, and anything else serializes as JSON inside single
// quotes.
func formulaEquals(field string, value any) (string, error) {
	sanitizedField := strings.ReplaceAll(field, "}", "")

	rendered, err := formulaValue(value)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("{%s}=%s", sanitizedField, rendered), nil
}

func formulaValue(value any) (string, error) {
	switch v := value.(type) {
	case string:
		escaped := strings.ReplaceAll(v, "'", "\\'")
		return "'" + escaped + "'", nil
	case bool:
		if v {
			return "TRUE()", nil
		}
		return "FALSE()", nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case nil:
		return "''", nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to render airtable formula value: %w", err)
		}
		escaped := strings.ReplaceAll(string(encoded), "'", "\\'")
		return "'" + escaped + "'", nil
	}
}
