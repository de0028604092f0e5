// Copyright (C) 2025 Cairn Care (maintainers@cairncare.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package router

import "strings"

// Complexity is the two-way routing split for a message.
type Complexity string

const (
	// ComplexitySimple routes straight to the deterministic matcher.
	ComplexitySimple Complexity = "simple"

	// ComplexityComplex tries the reasoning backends first.
	ComplexityComplex Complexity = "complex"
)

// complexWordThreshold: messages longer than this read as open-ended.
const complexWordThreshold = 12

// actionableKeywords mark short, concrete requests the deterministic matcher
// handles well.
var actionableKeywords = []string{
	"play", "music", "remind", "reminder", "what time", "what day",
	"turn on", "turn off", "hello", "hi", "hey", "thanks", "thank you",
	"good morning", "good evening", "goodnight", "good night",
}

// openEndedMarkers signal a question or feeling that needs actual reasoning.
var openEndedMarkers = []string{
	"why", "how come", "what should", "what do you think", "do you think",
	"tell me about", "help me decide", "help me understand", "explain",
	"i feel", "i'm worried", "im worried", "i don't understand",
	"i dont understand", "confused", "what happens if", "should i",
}

// normalizeWords lowercases the text, maps punctuation to spaces, and pads
// both ends so phrase matches anchor on word boundaries ("hi" must not match
// inside "think").
func normalizeWords(text string) string {
	lower := strings.ToLower(strings.TrimSpace(text))
	mapped := strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '\'' {
			return r
		}
		return ' '
	}, lower)
	return " " + strings.Join(strings.Fields(mapped), " ") + " "
}

func containsPhrase(norm, phrase string) bool {
	return strings.Contains(norm, " "+phrase+" ")
}

// ClassifyComplexity applies the keyword heuristic: word count, open-ended
// phrasing, then actionable keywords. No model call.
func ClassifyComplexity(text string) Complexity {
	norm := normalizeWords(text)
	wordCount := len(strings.Fields(norm))

	if wordCount > complexWordThreshold {
		return ComplexityComplex
	}
	for _, marker := range openEndedMarkers {
		if containsPhrase(norm, marker) {
			return ComplexityComplex
		}
	}
	for _, kw := range actionableKeywords {
		if containsPhrase(norm, kw) {
			return ComplexitySimple
		}
	}
	// Short, no actionable keywords: not something the pattern table knows.
	return ComplexityComplex
}
