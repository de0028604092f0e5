// Copyright (C) 2025 Cairn Care (maintainers@cairncare.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// =============================================================================
// Time-of-Day Buckets
// =============================================================================

// TimeOfDayBucket is a coarse bucket of the local clock, used by the
// deterministic backend for greeting selection and recorded in every frame.
type TimeOfDayBucket string

const (
	BucketMorning   TimeOfDayBucket = "morning"   // 05:00 - 11:59
	BucketAfternoon TimeOfDayBucket = "afternoon" // 12:00 - 16:59
	BucketEvening   TimeOfDayBucket = "evening"   // 17:00 - 21:59
	BucketNight     TimeOfDayBucket = "night"     // 22:00 - 04:59
)

// BucketForTime maps a wall-clock time to its bucket.
func BucketForTime(t time.Time) TimeOfDayBucket {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return BucketMorning
	case h >= 12 && h < 17:
		return BucketAfternoon
	case h >= 17 && h < 22:
		return BucketEvening
	default:
		return BucketNight
	}
}

// =============================================================================
// Frame Completeness
// =============================================================================

// Completeness describes how much of the frame could be assembled before the
// frame sub-deadline.
type Completeness string

const (
	// CompletenessFull means every external source and the trace store
	// answered within their timeboxes.
	CompletenessFull Completeness = "full"

	// CompletenessPartial means at least one external source did not answer;
	// the missing fields are left unknown.
	CompletenessPartial Completeness = "partial"

	// CompletenessMinimal means the trace store itself was unavailable; the
	// frame carries only the timestamp and time-of-day bucket.
	CompletenessMinimal Completeness = "minimal"
)

// =============================================================================
// Context Frame
// =============================================================================

// UserState is the user's self-reported or sensed condition. A nil UserState
// on the frame means the source did not answer in time.
type UserState struct {
	Energy string `json:"energy"`
	Focus  string `json:"focus"`
	Mood   string `json:"mood"`
}

// TraceSummary is the bounded per-entry digest of a recent interaction that
// rides along in the frame. It deliberately omits message content.
type TraceSummary struct {
	Backend    BackendID `json:"backend"`
	Outcome    Outcome   `json:"outcome"`
	Confidence float64   `json:"confidence"`
}

// ContextFrame is a best-effort snapshot of situational context, built fresh
// for each request and never persisted as a whole. Nil or empty fields mean
// the corresponding source was unavailable.
type ContextFrame struct {
	AsOf             time.Time         `json:"as_of"`
	TimeOfDay        TimeOfDayBucket   `json:"time_of_day"`
	UserState        *UserState        `json:"user_state,omitempty"`
	EnvironmentState map[string]string `json:"environment_state,omitempty"`
	CalendarItems    []string          `json:"calendar_items,omitempty"`
	RecentTrace      []TraceSummary    `json:"recent_trace,omitempty"`
	Completeness     Completeness      `json:"completeness"`
}
