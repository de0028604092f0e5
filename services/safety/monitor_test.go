// Copyright (C) 2025 Cairn Care (maintainers@cairncare.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package safety

import (
	"strings"
	"testing"
)

func TestNewMonitor(t *testing.T) {
	monitor, err := NewMonitor()
	if err != nil {
		t.Fatalf("NewMonitor() error = %v", err)
	}
	if monitor.Version() == "" {
		t.Error("Version() is empty, want the embedded table version")
	}
	if monitor.DegradedFallback() == "" {
		t.Error("DegradedFallback() is empty")
	}
}

func TestScreenCrisisCategories(t *testing.T) {
	monitor, err := NewMonitor()
	if err != nil {
		t.Fatalf("NewMonitor() error = %v", err)
	}

	tests := []struct {
		name         string
		text         string
		wantCategory Category
	}{
		{
			name:         "direct suicidal intent",
			text:         "I think I want to kill myself",
			wantCategory: CategorySelfHarm,
		},
		{
			name:         "wish to die",
			text:         "there is no reason to live anymore",
			wantCategory: CategorySelfHarm,
		},
		{
			name:         "self injury",
			text:         "i keep hurting myself when it gets bad",
			wantCategory: CategorySelfHarm,
		},
		{
			name:         "case insensitive",
			text:         "I AM FEELING SUICIDAL",
			wantCategory: CategorySelfHarm,
		},
		{
			name:         "overdose",
			text:         "I took too many pills this morning",
			wantCategory: CategorySubstance,
		},
		{
			name:         "relapse distress",
			text:         "i can't stop drinking and it scares me",
			wantCategory: CategorySubstance,
		},
		{
			name:         "abandonment statement",
			text:         "nobody listens to me anymore",
			wantCategory: CategoryRupture,
		},
		{
			name:         "rejecting support",
			text:         "you can't help me, nobody can",
			wantCategory: CategoryRupture,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := monitor.Screen(tt.text)
			if !verdict.IsCrisis {
				t.Fatalf("Screen(%q).IsCrisis = false, want true", tt.text)
			}
			if verdict.MatchedCategory != tt.wantCategory {
				t.Errorf("MatchedCategory = %q, want %q", verdict.MatchedCategory, tt.wantCategory)
			}
			if verdict.MatchedPattern == "" {
				t.Error("MatchedPattern is empty")
			}
			if verdict.FixedResponse == "" {
				t.Error("FixedResponse is empty")
			}
		})
	}
}

func TestScreenPriorityOrder(t *testing.T) {
	monitor, err := NewMonitor()
	if err != nil {
		t.Fatalf("NewMonitor() error = %v", err)
	}

	// Matches both self_harm and rupture patterns; self_harm has the lower
	// priority number and must win.
	verdict := monitor.Screen("nobody cares and I want to die")
	if !verdict.IsCrisis {
		t.Fatal("IsCrisis = false, want true")
	}
	if verdict.MatchedCategory != CategorySelfHarm {
		t.Errorf("MatchedCategory = %q, want %q", verdict.MatchedCategory, CategorySelfHarm)
	}
}

func TestScreenNonCrisis(t *testing.T) {
	monitor, err := NewMonitor()
	if err != nil {
		t.Fatalf("NewMonitor() error = %v", err)
	}

	tests := []string{
		"can you play some music",
		"what time is it",
		"I'm feeling a bit tired today",
		"remind me to take my medication at noon",
		"",
		// Distress-adjacent but below the crisis line.
		"today was hard and I'm sad",
	}

	for _, text := range tests {
		verdict := monitor.Screen(text)
		if verdict.IsCrisis {
			t.Errorf("Screen(%q).IsCrisis = true (pattern %s), want false",
				text, verdict.MatchedPattern)
		}
		if verdict.MatchedCategory != CategoryNone {
			t.Errorf("Screen(%q).MatchedCategory = %q, want %q",
				text, verdict.MatchedCategory, CategoryNone)
		}
	}
}

func TestFailClosed(t *testing.T) {
	monitor := NewFailClosed()

	for _, text := range []string{"hello", "", "what time is it"} {
		verdict := monitor.Screen(text)
		if !verdict.IsCrisis {
			t.Errorf("fail-closed Screen(%q).IsCrisis = false, want true", text)
		}
		if verdict.FixedResponse == "" {
			t.Errorf("fail-closed Screen(%q).FixedResponse is empty", text)
		}
		if !strings.Contains(verdict.FixedResponse, "988") {
			t.Errorf("fail-closed response missing crisis line number: %q", verdict.FixedResponse)
		}
	}

	if got := monitor.Version(); got != "fail-closed" {
		t.Errorf("Version() = %q, want %q", got, "fail-closed")
	}
	if monitor.DegradedFallback() == "" {
		t.Error("DegradedFallback() is empty")
	}
}

func TestScreenDeterministic(t *testing.T) {
	monitor, err := NewMonitor()
	if err != nil {
		t.Fatalf("NewMonitor() error = %v", err)
	}

	const text = "I want to end it all"
	first := monitor.Screen(text)
	for i := 0; i < 10; i++ {
		verdict := monitor.Screen(text)
		if verdict != first {
			t.Fatalf("Screen is not deterministic: %+v vs %+v", verdict, first)
		}
	}
}
