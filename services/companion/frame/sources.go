// Copyright (C) 2025 Cairn Care (maintainers@cairncare.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package frame

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/CairnCare/CairnLocal/services/companion/datatypes"
)

// Report is a source's contribution to the frame. A source fills only the
// fields it knows about; the builder merges reports.
type Report struct {
	UserState   *datatypes.UserState `json:"user_state,omitempty"`
	Environment map[string]string    `json:"environment,omitempty"`
	Calendar    []string             `json:"calendar,omitempty"`
}

// Source is an external state collaborator (environment/device state,
// calendar/tasks). Each Query is independently time-boxed by the builder;
// a source that does not answer inside its box is recorded as unknown.
type Source interface {
	Name() string
	Query(ctx context.Context, userID string) (Report, error)
}

// HTTPSource queries a collaborator service speaking the state JSON contract:
//
//	GET {base}/v1/state/{user_id}  ->  Report JSON
type HTTPSource struct {
	name       string
	httpClient *http.Client
	baseURL    string
}

// NewHTTPSource creates a named HTTP state source.
//
// No client-level timeout is set; the builder's per-source timebox rides on
// the request context.
func NewHTTPSource(name, baseURL string) (*HTTPSource, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("source %s: base URL not set", name)
	}
	return &HTTPSource{
		name:       name,
		httpClient: &http.Client{},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}, nil
}

func (s *HTTPSource) Name() string {
	return s.name
}

func (s *HTTPSource) Query(ctx context.Context, userID string) (Report, error) {
	stateURL := s.baseURL + "/v1/state/" + url.PathEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, stateURL, nil)
	if err != nil {
		return Report{}, fmt.Errorf("source %s: create request: %w", s.name, err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Report{}, fmt.Errorf("source %s: request failed: %w", s.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Report{}, fmt.Errorf("source %s: read response: %w", s.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Report{}, fmt.Errorf("source %s: status %d", s.name, resp.StatusCode)
	}

	var report Report
	if err := json.Unmarshal(body, &report); err != nil {
		return Report{}, fmt.Errorf("source %s: parse response: %w", s.name, err)
	}
	return report, nil
}
