// Copyright (C) 2025 Cairn Care (maintainers@cairncare.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package backends

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/CairnCare/CairnLocal/services/companion/datatypes"
)

func TestNewLocalRequiresURL(t *testing.T) {
	if _, err := NewLocal(""); err == nil {
		t.Error("NewLocal(\"\") returned nil error")
	}
}

func TestLocalInvokeSuccess(t *testing.T) {
	var gotPayload localPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/completion" {
			t.Errorf("request path = %q, want /completion", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		_ = json.NewEncoder(w).Encode(localResponse{Content: "  A gentle answer.  "})
	}))
	defer server.Close()

	local, err := NewLocal(server.URL)
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}

	msg := datatypes.Message{UserID: "user-1", Text: "how are you"}
	frame := datatypes.ContextFrame{TimeOfDay: datatypes.BucketMorning}

	res, err := local.Invoke(context.Background(), msg, frame)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if res.Outcome != datatypes.OutcomeOK {
		t.Errorf("Outcome = %q, want ok", res.Outcome)
	}
	if res.ResponseText != "A gentle answer." {
		t.Errorf("ResponseText = %q, want trimmed content", res.ResponseText)
	}
	if res.Confidence != localConfidence {
		t.Errorf("Confidence = %v, want %v", res.Confidence, localConfidence)
	}
	if !strings.Contains(gotPayload.Prompt, "how are you") {
		t.Errorf("prompt missing user text: %q", gotPayload.Prompt)
	}
	if !strings.Contains(gotPayload.Prompt, "morning") {
		t.Errorf("prompt missing frame context: %q", gotPayload.Prompt)
	}
}

func TestLocalInvokeTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	local, err := NewLocal(server.URL)
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := local.Invoke(ctx, datatypes.Message{UserID: "user-1", Text: "hi"},
		datatypes.ContextFrame{})
	if err == nil {
		t.Fatal("Invoke() error = nil, want timeout error")
	}
	if res.Outcome != datatypes.OutcomeTimeout {
		t.Errorf("Outcome = %q, want timeout", res.Outcome)
	}
}

func TestLocalInvokeServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	local, err := NewLocal(server.URL)
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}

	res, err := local.Invoke(context.Background(),
		datatypes.Message{UserID: "user-1", Text: "hi"}, datatypes.ContextFrame{})
	if err == nil {
		t.Fatal("Invoke() error = nil, want status error")
	}
	if res.Outcome != datatypes.OutcomeError {
		t.Errorf("Outcome = %q, want error", res.Outcome)
	}
}

func TestLocalInvokeEmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(localResponse{Content: "   "})
	}))
	defer server.Close()

	local, err := NewLocal(server.URL)
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}

	res, err := local.Invoke(context.Background(),
		datatypes.Message{UserID: "user-1", Text: "hi"}, datatypes.ContextFrame{})
	if err == nil {
		t.Fatal("Invoke() error = nil, want empty content error")
	}
	if res.Outcome != datatypes.OutcomeError {
		t.Errorf("Outcome = %q, want error", res.Outcome)
	}
}

func TestLocalInvokeConnectionRefused(t *testing.T) {
	// Immediately closed server: the port is released and connections fail.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	local, err := NewLocal(server.URL)
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}

	res, err := local.Invoke(context.Background(),
		datatypes.Message{UserID: "user-1", Text: "hi"}, datatypes.ContextFrame{})
	if err == nil {
		t.Fatal("Invoke() error = nil, want connection error")
	}
	if res.Outcome != datatypes.OutcomeError {
		t.Errorf("Outcome = %q, want error", res.Outcome)
	}
}
