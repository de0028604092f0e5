// Copyright (C) 2025 Cairn Care (maintainers@cairncare.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/CairnCare/CairnLocal/services/companion/datatypes"
)

const (
	// localMaxAttempt caps one local inference attempt. The engine usually
	// answers in hundreds of milliseconds but can stall under load.
	localMaxAttempt = 2 * time.Second

	// localConfidence is assigned to successful local completions. The
	// local model is decent but not the strongest reasoner in the set.
	localConfidence = 0.7

	localMaxTokens = 160
)

// localPayload is the llama.cpp-style completion request body.
type localPayload struct {
	Prompt      string   `json:"prompt"`
	NPredict    int      `json:"n_predict"`
	Temperature float32  `json:"temperature"`
	Stop        []string `json:"stop,omitempty"`
}

// localResponse is the subset of the completion reply we read.
type localResponse struct {
	Content string `json:"content"`
}

// Local invokes a llama.cpp-style inference server over HTTP.
type Local struct {
	httpClient *http.Client
	baseURL    string
}

// NewLocal creates a local inference adapter for the given base URL.
//
// No client-level timeout is set; every request carries the router's
// per-attempt deadline on its context instead.
func NewLocal(baseURL string) (*Local, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("local inference base URL not set")
	}
	return &Local{
		httpClient: &http.Client{},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}, nil
}

func (l *Local) ID() datatypes.BackendID {
	return datatypes.BackendLocal
}

func (l *Local) MaxAttempt() time.Duration {
	return localMaxAttempt
}

// Invoke posts a completion request and maps transport or deadline failures
// to the corresponding outcome.
func (l *Local) Invoke(ctx context.Context, msg datatypes.Message,
	frame datatypes.ContextFrame) (datatypes.BackendResult, error) {

	start := time.Now()

	payload := localPayload{
		Prompt:      promptFromFrame(frame) + "\nUser: " + msg.Text + "\nCairn:",
		NPredict:    localMaxTokens,
		Temperature: 0.3,
		Stop:        []string{"\nUser:"},
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return failure(l.ID(), start, datatypes.OutcomeError,
			fmt.Errorf("failed to marshal the completion payload: %w", err))
	}

	completionURL := l.baseURL + "/completion"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, completionURL,
		bytes.NewBuffer(reqBody))
	if err != nil {
		return failure(l.ID(), start, datatypes.OutcomeError,
			fmt.Errorf("failed to create the completion request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	slog.Debug("Calling local inference", "url", completionURL)
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return failure(l.ID(), start, outcomeForError(ctx, err),
			fmt.Errorf("local inference request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure(l.ID(), start, outcomeForError(ctx, err),
			fmt.Errorf("failed to read the local inference response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return failure(l.ID(), start, datatypes.OutcomeError,
			fmt.Errorf("local inference returned status %d: %s", resp.StatusCode, string(body)))
	}

	var parsed localResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return failure(l.ID(), start, datatypes.OutcomeError,
			fmt.Errorf("failed to parse the local inference response: %w", err))
	}
	text := strings.TrimSpace(parsed.Content)
	if text == "" {
		return failure(l.ID(), start, datatypes.OutcomeError,
			fmt.Errorf("local inference returned empty content"))
	}

	return result(l.ID(), start, datatypes.OutcomeOK, text, localConfidence, nil), nil
}
