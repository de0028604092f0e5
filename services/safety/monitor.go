// Copyright (C) 2025 Cairn Care (maintainers@cairncare.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package safety implements the deterministic crisis monitor that screens
// every inbound message before any other pipeline stage.
//
// The monitor is a pure function over the message text plus a fixed,
// versioned pattern table embedded in the binary (see the enforcement
// subpackage). It makes no network or model calls and runs in sub-millisecond
// time, so it can never be the reason a response misses its deadline.
//
// # Fail-Closed Semantics
//
// If the embedded table is malformed, NewMonitor returns an error and
// NewFailClosed provides a monitor that treats every message as a crisis
// match with the generic safety response. The monitor never fails open.
package safety

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/CairnCare/CairnLocal/services/safety/enforcement"
)

// genericSafetyResponse is the compiled-in last resort, used when even the
// embedded YAML cannot be parsed (so not even its generic text is available).
const genericSafetyResponse = "I want to make sure you get support right now. " +
	"You can call or text 988 (Suicide & Crisis Lifeline) any time. " +
	"If you are in immediate danger, please call 911."

// degradedFallback is the compiled-in copy of the degraded-path text, used
// for the same reason.
const degradedFallback = "I'm having a little trouble thinking just now, " +
	"but I'm still here with you. You can ask me again in a moment."

// Monitor screens message text against the embedded crisis pattern table.
//
// # Thread Safety
//
// Monitor is immutable after construction and safe for concurrent use.
type Monitor struct {
	version    string
	categories []categoryBlock
	generic    string
	degraded   string
	failClosed bool
}

// NewMonitor parses and compiles the embedded pattern table.
//
// It performs the following operations:
//  1. Unmarshals the embedded YAML data.
//  2. Compiles all regex patterns.
//  3. Sorts categories by priority.
//
// Returns an error if the embedded YAML is malformed or contains an invalid
// regex. Callers should fall back to NewFailClosed on error.
func NewMonitor() (*Monitor, error) {
	var file patternFile
	if err := yaml.Unmarshal(enforcement.CrisisPatterns, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the embedded pattern file: %w", err)
	}
	if err := file.compile(); err != nil {
		return nil, fmt.Errorf("failed to compile a crisis pattern: %w", err)
	}
	file.sortByPriority()

	return &Monitor{
		version:    file.Version,
		categories: file.Categories,
		generic:    nonEmpty(file.GenericSafetyResponse, genericSafetyResponse),
		degraded:   nonEmpty(file.DegradedFallback, degradedFallback),
	}, nil
}

// NewFailClosed returns a monitor that flags every message as a crisis with
// the generic safety response. Used when NewMonitor fails: a broken pattern
// table must never let a life-safety signal go unhandled.
func NewFailClosed() *Monitor {
	return &Monitor{
		generic:    genericSafetyResponse,
		degraded:   degradedFallback,
		failClosed: true,
	}
}

// Screen checks one message text against the pattern table.
//
// Categories are scanned in priority order and the first matching pattern
// wins. On no match the verdict has IsCrisis=false and processing continues.
func (m *Monitor) Screen(text string) Verdict {
	if m.failClosed {
		return Verdict{
			IsCrisis:        true,
			MatchedCategory: CategorySelfHarm,
			MatchedPattern:  "FAIL_CLOSED",
			FixedResponse:   m.generic,
		}
	}
	for _, cat := range m.categories {
		for _, cp := range cat.compiled {
			if cp.re.MatchString(text) {
				return Verdict{
					IsCrisis:        true,
					MatchedCategory: Category(cat.Name),
					MatchedPattern:  cp.id,
					FixedResponse:   cat.Response,
				}
			}
		}
	}
	return Verdict{IsCrisis: false, MatchedCategory: CategoryNone}
}

// Version returns the pattern table version, or "fail-closed" when the
// monitor is running without a table.
func (m *Monitor) Version() string {
	if m.failClosed {
		return "fail-closed"
	}
	return m.version
}

// DegradedFallback returns the supportive text used when every backend
// candidate fails. Versioned alongside the safety resources so the two safe
// paths ship together.
func (m *Monitor) DegradedFallback() string {
	return m.degraded
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
