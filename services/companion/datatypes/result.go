// Copyright (C) 2025 Cairn Care (maintainers@cairncare.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// =============================================================================
// Backend Identity and Outcomes
// =============================================================================

// BackendID identifies one of the closed set of reasoning backends.
type BackendID string

const (
	// BackendDeterministic is the pattern-to-response matcher. Near-zero
	// latency, cannot time out, used as the unconditional final fallback.
	BackendDeterministic BackendID = "deterministic"

	// BackendLocal is the local inference engine (hundreds of ms to low
	// seconds; may error or exceed its deadline under load).
	BackendLocal BackendID = "local_inference"

	// BackendRemote is the remote-assisted backend (seconds to tens of
	// seconds; at most one concurrent invocation per user).
	BackendRemote BackendID = "remote_assisted"
)

// Outcome classifies how a backend attempt, or a whole request, ended.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeTimeout Outcome = "timeout"
	OutcomeError   Outcome = "error"

	// OutcomeDegraded marks a request where every candidate backend failed
	// and the synthesized fallback response was returned. Only appears on
	// trace entries, never on individual backend results.
	OutcomeDegraded Outcome = "degraded"

	// OutcomeCrisis marks a request short-circuited by the safety monitor.
	// Only appears on trace entries.
	OutcomeCrisis Outcome = "crisis"
)

// =============================================================================
// Backend Result
// =============================================================================

// BackendResult is the uniform output of one backend attempt.
type BackendResult struct {
	BackendID    BackendID `json:"backend_id"`
	ResponseText string    `json:"response_text"`
	Confidence   float64   `json:"confidence"`
	Actions      []string  `json:"actions,omitempty"`
	LatencyMS    int64     `json:"latency_ms"`
	Outcome      Outcome   `json:"outcome"`
}

// =============================================================================
// Trace Entry
// =============================================================================

// TraceEntry is the immutable audit record of one completed request.
// Exactly one entry is written per request; entries are never updated or
// deleted by the companion (retention is an external concern).
type TraceEntry struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Timestamp      time.Time `json:"timestamp"`
	MessageDigest  string    `json:"message_digest"`
	Crisis         bool      `json:"crisis"`
	CrisisCategory string    `json:"crisis_category,omitempty"`
	BreakerStatus  string    `json:"breaker_status"`
	BackendUsed    BackendID `json:"backend_used,omitempty"`
	Confidence     float64   `json:"confidence"`
	Outcome        Outcome   `json:"outcome"`
}
