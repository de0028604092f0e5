// Copyright (C) 2025 Cairn Care (maintainers@cairncare.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the shared data model for the companion service:
// inbound messages, context frames, backend results, and trace entries.
//
// Types here are plain data. Behavior lives in the packages that own the
// corresponding pipeline stage (safety, breaker, backends, router).
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants for Input Limits
// =============================================================================

// MaxMessageTextBytes caps inbound message size. Checked in bytes, not runes,
// so oversized multi-byte payloads cannot slip past a rune-count check.
const MaxMessageTextBytes = 8 * 1024

// MaxUserIDLength caps the user identifier length.
const MaxUserIDLength = 128

// =============================================================================
// Shared Validator Instance
// =============================================================================

// messageValidate is the validator instance for companion datatypes.
// Initialized in init() with custom validators.
var messageValidate *validator.Validate

func init() {
	messageValidate = validator.New()
	_ = messageValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes enforces MaxMessageTextBytes on a string field by byte
// length rather than rune count.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageTextBytes
}

// =============================================================================
// Core Message
// =============================================================================

// Message is one inbound utterance from a user. Immutable once created;
// every pipeline stage receives it by value.
type Message struct {
	UserID     string    `json:"user_id"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}

// =============================================================================
// Service Boundary Types
// =============================================================================

// RespondRequest is the inbound payload at the service boundary.
type RespondRequest struct {
	UserID string `json:"user_id" binding:"required" validate:"required,max=128"`
	Text   string `json:"text" binding:"required" validate:"required,maxbytes"`
}

// Validate checks the request against size and presence rules.
//
// # Outputs
//
//   - error: Non-nil if any field violates its constraints
func (r *RespondRequest) Validate() error {
	return messageValidate.Struct(r)
}

// RespondResponse is the outbound payload at the service boundary.
//
// Actions carries ordered action identifiers only. A separate collaborator
// executes them; the companion never blocks on action execution.
type RespondResponse struct {
	ResponseText string   `json:"response_text"`
	Actions      []string `json:"actions"`
	BackendUsed  string   `json:"backend_used"`
	Confidence   float64  `json:"confidence"`
	Degraded     bool     `json:"degraded"`
}
