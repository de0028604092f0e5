// Copyright (C) 2025 Cairn Care (maintainers@cairncare.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package breaker

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/CairnCare/CairnLocal/services/companion/datatypes"
)

// fakeClock steps time manually so cooldown behavior is deterministic.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 8, 14, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRegistry(clock *fakeClock) *Registry {
	return NewRegistry(Config{
		Threshold: 3,
		Cooldown:  2 * time.Minute,
		now:       clock.Now,
	})
}

func TestClosedAllowsAllBackends(t *testing.T) {
	reg := newTestRegistry(newFakeClock())

	decision := reg.Check("user-1")
	if decision.Status != StatusClosed {
		t.Fatalf("Status = %v, want closed", decision.Status)
	}
	for _, id := range []datatypes.BackendID{
		datatypes.BackendDeterministic,
		datatypes.BackendLocal,
		datatypes.BackendRemote,
	} {
		if !decision.Allows(id) {
			t.Errorf("closed decision does not allow %s", id)
		}
	}
}

func TestOpensAfterThresholdNegatives(t *testing.T) {
	reg := newTestRegistry(newFakeClock())

	reg.RecordOutcome("user-1", SignalNegative, false)
	reg.RecordOutcome("user-1", SignalNegative, false)
	if status, _ := reg.Snapshot("user-1"); status != StatusClosed {
		t.Fatalf("status after 2 negatives = %v, want closed", status)
	}

	reg.RecordOutcome("user-1", SignalNegative, false)
	status, count := reg.Snapshot("user-1")
	if status != StatusOpen {
		t.Fatalf("status after 3 negatives = %v, want open", status)
	}
	if count != 3 {
		t.Errorf("consecutive negatives = %d, want 3", count)
	}

	decision := reg.Check("user-1")
	if decision.Status != StatusOpen {
		t.Fatalf("Check status = %v, want open", decision.Status)
	}
	if !decision.Allows(datatypes.BackendDeterministic) {
		t.Error("open decision must allow the deterministic backend")
	}
	if decision.Allows(datatypes.BackendLocal) || decision.Allows(datatypes.BackendRemote) {
		t.Error("open decision must not allow reasoning backends")
	}
}

func TestPositiveResetsNegativeCount(t *testing.T) {
	reg := newTestRegistry(newFakeClock())

	reg.RecordOutcome("user-1", SignalNegative, false)
	reg.RecordOutcome("user-1", SignalNegative, false)
	reg.RecordOutcome("user-1", SignalPositive, false)
	reg.RecordOutcome("user-1", SignalNegative, false)
	reg.RecordOutcome("user-1", SignalNegative, false)

	if status, _ := reg.Snapshot("user-1"); status != StatusClosed {
		t.Errorf("status = %v, want closed (count reset by positive)", status)
	}
}

func TestHalfOpenTrialAfterCooldown(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)

	for i := 0; i < 3; i++ {
		reg.RecordOutcome("user-1", SignalNegative, false)
	}

	// Before the cooldown elapses the breaker stays open.
	clock.Advance(time.Minute)
	if d := reg.Check("user-1"); d.Status != StatusOpen || d.Trial {
		t.Fatalf("mid-cooldown decision = %+v, want open non-trial", d)
	}

	// After the cooldown the first check becomes the single trial.
	clock.Advance(90 * time.Second)
	trial := reg.Check("user-1")
	if trial.Status != StatusHalfOpen || !trial.Trial {
		t.Fatalf("post-cooldown decision = %+v, want half_open trial", trial)
	}
	if !trial.Allows(datatypes.BackendLocal) {
		t.Error("trial decision must allow the full backend set")
	}

	// A second check while the trial is pending holds the restricted set.
	second := reg.Check("user-1")
	if second.Status != StatusHalfOpen || second.Trial {
		t.Fatalf("concurrent decision = %+v, want half_open non-trial", second)
	}
	if second.Allows(datatypes.BackendLocal) {
		t.Error("concurrent half-open decision must not allow reasoning backends")
	}
}

func TestTrialPositiveCloses(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)

	for i := 0; i < 3; i++ {
		reg.RecordOutcome("user-1", SignalNegative, false)
	}
	clock.Advance(3 * time.Minute)

	if d := reg.Check("user-1"); !d.Trial {
		t.Fatalf("expected trial decision, got %+v", d)
	}
	reg.RecordOutcome("user-1", SignalPositive, true)

	status, count := reg.Snapshot("user-1")
	if status != StatusClosed {
		t.Fatalf("status after positive trial = %v, want closed", status)
	}
	if count != 0 {
		t.Errorf("consecutive negatives = %d, want 0", count)
	}
}

func TestTrialNegativeDoublesCooldown(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)

	for i := 0; i < 3; i++ {
		reg.RecordOutcome("user-1", SignalNegative, false)
	}

	// First failed trial: cooldown doubles to 4 minutes.
	clock.Advance(3 * time.Minute)
	if d := reg.Check("user-1"); !d.Trial {
		t.Fatalf("expected trial, got %+v", d)
	}
	reg.RecordOutcome("user-1", SignalNegative, true)
	if status, _ := reg.Snapshot("user-1"); status != StatusOpen {
		t.Fatalf("status after failed trial = %v, want open", status)
	}

	// Still inside the doubled cooldown.
	clock.Advance(3 * time.Minute)
	if d := reg.Check("user-1"); d.Status != StatusOpen {
		t.Errorf("decision inside doubled cooldown = %+v, want open", d)
	}

	// Past the doubled cooldown.
	clock.Advance(90 * time.Second)
	if d := reg.Check("user-1"); d.Status != StatusHalfOpen || !d.Trial {
		t.Errorf("decision past doubled cooldown = %+v, want half_open trial", d)
	}
}

func TestHalfOpenIgnoresNonTrialSignals(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)

	for i := 0; i < 3; i++ {
		reg.RecordOutcome("user-1", SignalNegative, false)
	}
	clock.Advance(3 * time.Minute)

	// The trial goes out; a second same-user turn rides the restricted set
	// and finishes first with a positive outcome.
	trial := reg.Check("user-1")
	if !trial.Trial {
		t.Fatalf("expected trial decision, got %+v", trial)
	}
	restricted := reg.Check("user-1")
	if restricted.Trial {
		t.Fatalf("expected non-trial decision, got %+v", restricted)
	}

	reg.RecordOutcome("user-1", SignalPositive, false)
	if status, _ := reg.Snapshot("user-1"); status != StatusHalfOpen {
		t.Fatalf("status = %v, want half_open: the restricted turn must not resolve the trial", status)
	}

	// The trial itself fails: the breaker reopens with a doubled cooldown.
	reg.RecordOutcome("user-1", SignalNegative, true)
	if status, _ := reg.Snapshot("user-1"); status != StatusOpen {
		t.Fatalf("status after failed trial = %v, want open", status)
	}

	clock.Advance(3 * time.Minute)
	if d := reg.Check("user-1"); d.Status != StatusOpen {
		t.Errorf("decision inside doubled cooldown = %+v, want open", d)
	}
	clock.Advance(90 * time.Second)
	if d := reg.Check("user-1"); d.Status != StatusHalfOpen || !d.Trial {
		t.Errorf("decision past doubled cooldown = %+v, want half_open trial", d)
	}
}

func TestCooldownCap(t *testing.T) {
	clock := newFakeClock()
	reg := NewRegistry(Config{
		Threshold:   3,
		Cooldown:    time.Minute,
		CooldownCap: 2 * time.Minute,
		now:         clock.Now,
	})

	for i := 0; i < 3; i++ {
		reg.RecordOutcome("user-1", SignalNegative, false)
	}

	// Fail several trials; cooldown must never exceed the cap.
	for trial := 0; trial < 4; trial++ {
		clock.Advance(2*time.Minute + time.Second)
		d := reg.Check("user-1")
		if d.Status != StatusHalfOpen || !d.Trial {
			t.Fatalf("trial %d: decision = %+v, want half_open trial", trial, d)
		}
		reg.RecordOutcome("user-1", SignalNegative, true)
	}
}

func TestPerUserIsolation(t *testing.T) {
	reg := newTestRegistry(newFakeClock())

	for i := 0; i < 3; i++ {
		reg.RecordOutcome("alice", SignalNegative, false)
	}

	if status, _ := reg.Snapshot("alice"); status != StatusOpen {
		t.Fatalf("alice status = %v, want open", status)
	}
	if status, _ := reg.Snapshot("bob"); status != StatusClosed {
		t.Errorf("bob status = %v, want closed (untouched by alice's turns)", status)
	}
	if d := reg.Check("bob"); !d.Allows(datatypes.BackendRemote) {
		t.Error("bob's decision must allow the full set")
	}
}

func TestOutcomeWhileOpenIgnored(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)

	for i := 0; i < 3; i++ {
		reg.RecordOutcome("user-1", SignalNegative, false)
	}

	// Positive outcomes from the restricted deterministic path must not
	// close the breaker early; recovery is time-driven.
	reg.RecordOutcome("user-1", SignalPositive, false)
	reg.RecordOutcome("user-1", SignalPositive, false)

	if status, _ := reg.Snapshot("user-1"); status != StatusOpen {
		t.Errorf("status = %v, want open despite positives while open", status)
	}
	clock.Advance(time.Minute)
	if d := reg.Check("user-1"); d.Status != StatusOpen {
		t.Errorf("decision inside cooldown = %+v, want open", d)
	}
}

func TestOnStateChangeCallback(t *testing.T) {
	clock := newFakeClock()
	var (
		mu          sync.Mutex
		transitions []string
	)
	done := make(chan struct{}, 8)

	reg := NewRegistry(Config{
		Threshold: 3,
		Cooldown:  time.Minute,
		now:       clock.Now,
		OnStateChange: func(userID string, from, to Status) {
			mu.Lock()
			transitions = append(transitions, fmt.Sprintf("%s:%s->%s", userID, from, to))
			mu.Unlock()
			done <- struct{}{}
		},
	})

	for i := 0; i < 3; i++ {
		reg.RecordOutcome("user-1", SignalNegative, false)
	}
	<-done // closed -> open

	clock.Advance(2 * time.Minute)
	reg.Check("user-1")
	<-done // open -> half_open

	reg.RecordOutcome("user-1", SignalPositive, true)
	<-done // half_open -> closed

	mu.Lock()
	defer mu.Unlock()
	want := []string{
		"user-1:closed->open",
		"user-1:open->half_open",
		"user-1:half_open->closed",
	}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transitions[%d] = %q, want %q", i, transitions[i], want[i])
		}
	}
}

func TestConcurrentChecks(t *testing.T) {
	reg := newTestRegistry(newFakeClock())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			userID := fmt.Sprintf("user-%d", n%4)
			for j := 0; j < 100; j++ {
				reg.Check(userID)
				if j%3 == 0 {
					reg.RecordOutcome(userID, SignalPositive, false)
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusClosed, "closed"},
		{StatusOpen, "open"},
		{StatusHalfOpen, "half_open"},
		{Status(42), "unknown(42)"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}
