// Copyright (C) 2025 Cairn Care (maintainers@cairncare.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package safety

import (
	"fmt"
	"regexp"
	"sort"
)

// Category names a crisis pattern class.
type Category string

const (
	CategorySelfHarm  Category = "self_harm"
	CategorySubstance Category = "substance"
	CategoryRupture   Category = "rupture"
	CategoryNone      Category = "none"
)

// Verdict is the result of screening one message. Produced exactly once per
// message and never mutated afterwards.
type Verdict struct {
	IsCrisis        bool     `json:"is_crisis"`
	MatchedCategory Category `json:"matched_category"`
	MatchedPattern  string   `json:"matched_pattern,omitempty"`

	// FixedResponse is the pre-authored resource text for the matched
	// category. Never backend-generated, never altered by confidence.
	FixedResponse string `json:"fixed_response,omitempty"`
}

// patternFile mirrors the embedded crisis_patterns.yaml layout.
type patternFile struct {
	Version               string          `yaml:"version"`
	GenericSafetyResponse string          `yaml:"generic_safety_response"`
	DegradedFallback      string          `yaml:"degraded_fallback"`
	Categories            []categoryBlock `yaml:"categories"`
}

type categoryBlock struct {
	Name     string    `yaml:"name"`
	Priority int       `yaml:"priority"`
	Response string    `yaml:"response"`
	Patterns []pattern `yaml:"patterns"`

	compiled []compiledPattern `yaml:"-"`
}

type pattern struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
	Regex       string `yaml:"regex"`
}

type compiledPattern struct {
	id string
	re *regexp.Regexp
}

// compile builds the regex set for every category. Any invalid pattern fails
// the whole table; the monitor then runs fail-closed.
func (f *patternFile) compile() error {
	for i := range f.Categories {
		cat := &f.Categories[i]
		if len(cat.Patterns) == 0 {
			return fmt.Errorf("category %q has no patterns", cat.Name)
		}
		if cat.Response == "" {
			return fmt.Errorf("category %q has no fixed response", cat.Name)
		}
		for _, p := range cat.Patterns {
			re, err := regexp.Compile(p.Regex)
			if err != nil {
				return fmt.Errorf("pattern %s: %w", p.ID, err)
			}
			cat.compiled = append(cat.compiled, compiledPattern{id: p.ID, re: re})
		}
	}
	return nil
}

// sortByPriority orders categories from highest to lowest priority
// (lowest number first), so the first match wins deterministically.
func (f *patternFile) sortByPriority() {
	sort.SliceStable(f.Categories, func(i, j int) bool {
		return f.Categories[i].Priority < f.Categories[j].Priority
	})
}
