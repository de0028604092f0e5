// Copyright (C) 2025 Cairn Care (maintainers@cairncare.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package breaker implements the per-user protective circuit breaker.
//
// Unlike an infrastructure circuit breaker, this one gates user experience:
// after repeated distress or negative-outcome turns it stops routing complex
// reasoning at a user who is escalating, allowing only the fast deterministic
// backend until a cooldown elapses.
//
// # State Diagram
//
//	   ┌────────────────────────────────────────────┐
//	   │                                            │
//	   ▼                                            │
//	CLOSED ──[3 consecutive negative signals]──► OPEN ◄──┐
//	   ▲                                            │    │
//	   │                                            │    │ [trial negative,
//	   └──[trial positive]──── HALF_OPEN ◄──────────┘    │  cooldown doubles]
//	                               │                     │
//	                               └─────────────────────┘
//
// # Thread Safety
//
// All updates for one user are serialized on that user's own mutex; users
// never contend on a shared lock. The registry map is guarded separately.
package breaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/CairnCare/CairnLocal/services/companion/datatypes"
)

// Status is the protective state for one user.
type Status int

const (
	// StatusClosed is the normal state: all backends allowed.
	StatusClosed Status = iota

	// StatusOpen rejects complex backends; only the deterministic backend
	// and supportive fixed messaging are allowed.
	StatusOpen

	// StatusHalfOpen allows exactly one trial request to the normal backend
	// set to probe recovery.
	StatusHalfOpen
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusClosed:
		return "closed"
	case StatusOpen:
		return "open"
	case StatusHalfOpen:
		return "half_open"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Signal is the per-turn outcome fed back by the router.
type Signal int

const (
	// SignalPositive marks a turn with a non-distress outcome.
	SignalPositive Signal = iota

	// SignalNegative marks a distress turn: backend timeout/error, a
	// degraded response, or a low-confidence answer.
	SignalNegative
)

// Decision is the result of a Check call: the current status plus the set of
// backends the router may try this turn.
type Decision struct {
	Status  Status
	Allowed map[datatypes.BackendID]bool

	// Trial is true when this request is the half-open probe. The router
	// reports its outcome via RecordOutcome like any other turn.
	Trial bool
}

// Allows reports whether a backend is in the allowed set.
func (d Decision) Allows(id datatypes.BackendID) bool {
	return d.Allowed[id]
}

// Config controls breaker thresholds and timing.
type Config struct {
	// Threshold is the count of consecutive negative signals that opens the
	// breaker. Default: 3.
	Threshold int

	// Cooldown is the initial open duration before a half-open trial.
	// Default: 2 minutes.
	Cooldown time.Duration

	// CooldownCap bounds the exponential backoff on repeated failed trials.
	// Default: 8x Cooldown.
	CooldownCap time.Duration

	// OnStateChange is called when a user's state transitions.
	// Called asynchronously to avoid blocking the turn.
	OnStateChange func(userID string, from, to Status)

	// now is the clock, overridable in tests.
	now func() time.Time
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Threshold: 3,
		Cooldown:  2 * time.Minute,
	}
}

// userState is the mutable breaker record for one user.
// Guarded by its own mutex: single writer per user, no cross-user contention.
type userState struct {
	mu sync.Mutex

	status              Status
	consecutiveNegative int
	openedAt            time.Time
	cooldownUntil       time.Time
	currentCooldown     time.Duration
	trialInFlight       bool
}

// Registry holds breaker state keyed by user id.
//
// # Thread Safety
//
// Registry is safe for concurrent use. The map lock is held only for lookup
// and insert; all state mutation happens under the per-user lock.
type Registry struct {
	config Config
	mu     sync.RWMutex
	users  map[string]*userState
}

// NewRegistry creates a registry, applying defaults for zero config values.
func NewRegistry(config Config) *Registry {
	if config.Threshold <= 0 {
		config.Threshold = 3
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 2 * time.Minute
	}
	if config.CooldownCap <= 0 {
		config.CooldownCap = 8 * config.Cooldown
	}
	if config.now == nil {
		config.now = time.Now
	}
	return &Registry{
		config: config,
		users:  make(map[string]*userState),
	}
}

// get returns the state for a user, creating it on first sight.
func (r *Registry) get(userID string) *userState {
	r.mu.RLock()
	st, ok := r.users[userID]
	r.mu.RUnlock()
	if ok {
		return st
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Double-check after acquiring write lock
	if st, ok = r.users[userID]; ok {
		return st
	}
	st = &userState{status: StatusClosed, currentCooldown: r.config.Cooldown}
	r.users[userID] = st
	return st
}

// Check returns the backends the router may try for this user's next turn.
//
// In the open state, Check also performs the open → half_open transition once
// the cooldown has elapsed; the first request after that point becomes the
// single trial, and any further request while the trial is pending stays on
// the restricted set.
func (r *Registry) Check(userID string) Decision {
	st := r.get(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := r.config.now()

	switch st.status {
	case StatusClosed:
		return Decision{Status: StatusClosed, Allowed: fullSet()}

	case StatusOpen:
		if now.Before(st.cooldownUntil) {
			return Decision{Status: StatusOpen, Allowed: restrictedSet()}
		}
		r.transition(userID, st, StatusHalfOpen)
		st.trialInFlight = true
		return Decision{Status: StatusHalfOpen, Allowed: fullSet(), Trial: true}

	case StatusHalfOpen:
		if st.trialInFlight {
			// A trial is already probing recovery; hold the line.
			return Decision{Status: StatusHalfOpen, Allowed: restrictedSet()}
		}
		st.trialInFlight = true
		return Decision{Status: StatusHalfOpen, Allowed: fullSet(), Trial: true}

	default:
		return Decision{Status: st.status, Allowed: restrictedSet()}
	}
}

// RecordOutcome feeds one turn's signal back into the state machine.
//
// The router calls this exactly once per completed non-crisis request,
// passing the Trial flag from the Decision that admitted the turn. Only the
// trial's own signal resolves the half-open state: a concurrent same-user
// turn on the restricted set must not close or reopen the breaker on the
// trial's behalf.
func (r *Registry) RecordOutcome(userID string, signal Signal, trial bool) {
	st := r.get(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := r.config.now()

	switch st.status {
	case StatusClosed:
		if signal == SignalNegative {
			st.consecutiveNegative++
			if st.consecutiveNegative >= r.config.Threshold {
				r.open(userID, st, now, r.config.Cooldown)
			}
		} else {
			st.consecutiveNegative = 0
		}

	case StatusHalfOpen:
		if !trial {
			// A restricted-set turn that interleaved with the trial;
			// recovery is decided by the trial's outcome alone.
			return
		}
		st.trialInFlight = false
		if signal == SignalNegative {
			// Trial failed: reopen with doubled cooldown, up to the cap.
			next := st.currentCooldown * 2
			if next > r.config.CooldownCap {
				next = r.config.CooldownCap
			}
			r.open(userID, st, now, next)
		} else {
			st.consecutiveNegative = 0
			st.currentCooldown = r.config.Cooldown
			r.transition(userID, st, StatusClosed)
		}

	case StatusOpen:
		// Outcomes while open come from the restricted deterministic path
		// and do not move the machine; recovery is time-driven.
	}
}

// Snapshot returns the current externally visible state for one user.
// Intended for trace entries and diagnostics.
func (r *Registry) Snapshot(userID string) (Status, int) {
	st := r.get(userID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.status, st.consecutiveNegative
}

// open moves a user to the open state with the given cooldown.
// Caller holds the user lock.
func (r *Registry) open(userID string, st *userState, now time.Time, cooldown time.Duration) {
	st.currentCooldown = cooldown
	st.openedAt = now
	st.cooldownUntil = now.Add(cooldown)
	st.trialInFlight = false
	r.transition(userID, st, StatusOpen)
}

// transition updates the status and fires the change callback off-thread.
// Caller holds the user lock.
func (r *Registry) transition(userID string, st *userState, to Status) {
	if st.status == to {
		return
	}
	from := st.status
	st.status = to
	if r.config.OnStateChange != nil {
		go r.config.OnStateChange(userID, from, to)
	}
}

// fullSet is the normal routing set: every backend.
func fullSet() map[datatypes.BackendID]bool {
	return map[datatypes.BackendID]bool{
		datatypes.BackendDeterministic: true,
		datatypes.BackendLocal:         true,
		datatypes.BackendRemote:        true,
	}
}

// restrictedSet is the open-state set: deterministic only.
func restrictedSet() map[datatypes.BackendID]bool {
	return map[datatypes.BackendID]bool{
		datatypes.BackendDeterministic: true,
	}
}
