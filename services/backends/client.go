// Copyright (C) 2025 Cairn Care (maintainers@cairncare.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package backends provides the uniform adapter interface over the closed set
// of reasoning backends: the deterministic matcher, the local inference
// engine, and the remote-assisted backend.
//
// Every adapter respects the deadline carried on the context: an adapter that
// cannot finish before the deadline abandons the attempt and reports a
// timeout outcome rather than returning late. The fallback order across
// adapters is the router's concern; adapters are independent of each other.
package backends

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/CairnCare/CairnLocal/services/companion/datatypes"
)

// Backend is the uniform invocation contract for a reasoning backend.
type Backend interface {
	// ID identifies the backend in results, traces, and metrics.
	ID() datatypes.BackendID

	// MaxAttempt is the backend's own per-attempt ceiling. The router caps
	// each attempt at min(remaining budget, MaxAttempt).
	MaxAttempt() time.Duration

	// Invoke produces a response for the message under the context deadline.
	// The returned result always carries an outcome; err is non-nil exactly
	// when the outcome is not ok, so callers can log the cause while the
	// fallback chain switches on the outcome.
	Invoke(ctx context.Context, msg datatypes.Message, frame datatypes.ContextFrame) (datatypes.BackendResult, error)
}

// result assembles a BackendResult with the measured latency.
func result(id datatypes.BackendID, start time.Time, outcome datatypes.Outcome,
	text string, confidence float64, actions []string) datatypes.BackendResult {

	return datatypes.BackendResult{
		BackendID:    id,
		ResponseText: text,
		Confidence:   confidence,
		Actions:      actions,
		LatencyMS:    time.Since(start).Milliseconds(),
		Outcome:      outcome,
	}
}

// failure assembles a non-ok result and its accompanying error.
func failure(id datatypes.BackendID, start time.Time, outcome datatypes.Outcome,
	err error) (datatypes.BackendResult, error) {

	return result(id, start, outcome, "", 0, nil), err
}

// outcomeForError maps an invocation error to timeout or error, looking at
// both the context state and the wrapped cause.
func outcomeForError(ctx context.Context, err error) datatypes.Outcome {
	if ctx.Err() != nil {
		return datatypes.OutcomeTimeout
	}
	if err == context.DeadlineExceeded || err == context.Canceled {
		return datatypes.OutcomeTimeout
	}
	return datatypes.OutcomeError
}

// promptFromFrame renders the situational context into a compact system
// prompt shared by the model-backed adapters.
func promptFromFrame(frame datatypes.ContextFrame) string {
	var b strings.Builder
	b.WriteString("You are Cairn, a gentle companion for a person who needs short, ")
	b.WriteString("clear, supportive answers. Keep replies under three sentences.\n")
	fmt.Fprintf(&b, "Time of day: %s.\n", frame.TimeOfDay)
	if frame.UserState != nil {
		fmt.Fprintf(&b, "User state: energy=%s focus=%s mood=%s.\n",
			frame.UserState.Energy, frame.UserState.Focus, frame.UserState.Mood)
	}
	if len(frame.EnvironmentState) > 0 {
		keys := make([]string, 0, len(frame.EnvironmentState))
		for k := range frame.EnvironmentState {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("Environment:")
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%s", k, frame.EnvironmentState[k])
		}
		b.WriteString(".\n")
	}
	if len(frame.CalendarItems) > 0 {
		fmt.Fprintf(&b, "Upcoming: %s.\n", strings.Join(frame.CalendarItems, "; "))
	}
	return b.String()
}
