// Copyright (C) 2025 Cairn Care (maintainers@cairncare.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package router

import "testing"

func TestClassifyComplexity(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Complexity
	}{
		{
			name: "short actionable request",
			text: "play some music",
			want: ComplexitySimple,
		},
		{
			name: "reminder request",
			text: "remind me about lunch",
			want: ComplexitySimple,
		},
		{
			name: "greeting",
			text: "good morning",
			want: ComplexitySimple,
		},
		{
			name: "thanks",
			text: "thanks a lot",
			want: ComplexitySimple,
		},
		{
			name: "time check",
			text: "what time is it",
			want: ComplexitySimple,
		},
		{
			name: "long message reads as complex",
			text: "I was thinking about what happened yesterday at the store and I am not sure it went well",
			want: ComplexityComplex,
		},
		{
			name: "open-ended why question",
			text: "why does the kettle whistle",
			want: ComplexityComplex,
		},
		{
			name: "asking for an opinion",
			text: "what do you think about my plan",
			want: ComplexityComplex,
		},
		{
			name: "feeling statement",
			text: "i feel strange today",
			want: ComplexityComplex,
		},
		{
			name: "open-ended beats actionable keyword",
			text: "should i play outside",
			want: ComplexityComplex,
		},
		{
			name: "short with no actionable keyword",
			text: "the garden needs water",
			want: ComplexityComplex,
		},
		{
			name: "keyword inside another word does not match",
			text: "i think so",
			want: ComplexityComplex,
		},
		{
			name: "play inside display does not match",
			text: "the display flickered again",
			want: ComplexityComplex,
		},
		{
			name: "keyword at end with punctuation",
			text: "can you play music?",
			want: ComplexitySimple,
		},
		{
			name: "empty message",
			text: "",
			want: ComplexityComplex,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyComplexity(tt.text); got != tt.want {
				t.Errorf("ClassifyComplexity(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}
