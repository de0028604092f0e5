// Copyright (C) 2025 Cairn Care (maintainers@cairncare.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package backends

import (
	"context"
	"strings"
	"time"

	"github.com/CairnCare/CairnLocal/services/companion/datatypes"
)

// Well-known action identifiers emitted by the deterministic matcher.
// Execution is a collaborator's job; the companion only names them.
const (
	ActionPlayMusic    = "play_music"
	ActionSpeakerNudge = "speaker_nudge"
	ActionReminder     = "reminder"
)

// deterministicMaxAttempt is nominal; the matcher never approaches it.
const deterministicMaxAttempt = 50 * time.Millisecond

// matchRule maps trigger phrases to a canned response. First rule with a
// matching trigger wins, so order the table from specific to general.
type matchRule struct {
	triggers   []string
	response   string
	actions    []string
	confidence float64
}

var matchTable = []matchRule{
	{
		triggers:   []string{"play music", "some music", "put on a song", "play a song"},
		response:   "Putting on some of your favorite music now.",
		actions:    []string{ActionPlayMusic},
		confidence: 0.95,
	},
	{
		triggers:   []string{"remind me", "don't let me forget", "dont let me forget"},
		response:   "Okay, I'll set that reminder for you.",
		actions:    []string{ActionReminder},
		confidence: 0.9,
	},
	{
		triggers:   []string{"what time", "what day", "what's today", "whats today"},
		response:   "Let me check the clock for you.",
		actions:    []string{ActionSpeakerNudge},
		confidence: 0.9,
	},
	{
		triggers:   []string{"thank you", "thanks"},
		response:   "You're so welcome. I'm glad I could help.",
		confidence: 0.85,
	},
	{
		triggers:   []string{"i'm tired", "im tired", "so tired", "exhausted"},
		response:   "It's okay to rest. Maybe sit somewhere comfortable for a bit - I'll be right here.",
		confidence: 0.6,
	},
	{
		triggers:   []string{"i'm sad", "im sad", "feeling down", "feel lonely", "i'm lonely", "im lonely"},
		response:   "I'm sorry it's a heavy moment. I'm here with you, and you don't have to carry it alone.",
		confidence: 0.3,
	},
	{
		triggers:   []string{"hello", "hi", "hey", "good morning", "good evening"},
		response:   "", // filled by greeting for the current time bucket
		confidence: 0.85,
	},
}

// greetings by time-of-day bucket.
var greetings = map[datatypes.TimeOfDayBucket]string{
	datatypes.BucketMorning:   "Good morning! It's lovely to hear from you. How did you sleep?",
	datatypes.BucketAfternoon: "Good afternoon! I hope your day is going gently.",
	datatypes.BucketEvening:   "Good evening! It's nice to wind down together.",
	datatypes.BucketNight:     "It's late - I'm still here. Is something keeping you up?",
}

// defaultResponse is used when no rule matches. Low confidence signals the
// router that the matcher is guessing.
const defaultResponse = "I'm here and listening. Tell me a little more, and we'll figure it out together."

// Deterministic is the pattern-to-response matcher. Near-zero latency,
// always returns ok, and serves as the unconditional final fallback.
type Deterministic struct{}

// NewDeterministic creates the matcher. It has no failure modes.
func NewDeterministic() *Deterministic {
	return &Deterministic{}
}

func (d *Deterministic) ID() datatypes.BackendID {
	return datatypes.BackendDeterministic
}

func (d *Deterministic) MaxAttempt() time.Duration {
	return deterministicMaxAttempt
}

// normalizeWords lowercases the text, maps punctuation to spaces, and pads
// both ends so triggers anchor on whole words ("hi" must not match "sushi").
func normalizeWords(text string) string {
	mapped := strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '\'' {
			return r
		}
		return ' '
	}, strings.ToLower(text))
	return " " + strings.Join(strings.Fields(mapped), " ") + " "
}

// Invoke scans the match table and falls back to the default supportive
// response. It never reads the context deadline: the table scan is microseconds.
func (d *Deterministic) Invoke(_ context.Context, msg datatypes.Message,
	frame datatypes.ContextFrame) (datatypes.BackendResult, error) {

	start := time.Now()
	norm := normalizeWords(msg.Text)

	for _, rule := range matchTable {
		for _, trigger := range rule.triggers {
			if !strings.Contains(norm, " "+trigger+" ") {
				continue
			}
			text := rule.response
			if text == "" {
				text = greetings[frame.TimeOfDay]
			}
			return result(d.ID(), start, datatypes.OutcomeOK,
				text, rule.confidence, rule.actions), nil
		}
	}

	return result(d.ID(), start, datatypes.OutcomeOK, defaultResponse, 0.4, nil), nil
}
