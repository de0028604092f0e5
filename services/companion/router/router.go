// Copyright (C) 2025 Cairn Care (maintainers@cairncare.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package router implements the safety-gated cognitive routing pipeline.
//
// Per request the router runs: mandatory safety screen (may short-circuit) →
// breaker check (may restrict backends) → bounded frame assembly → complexity
// classification → ordered backend fallback under the overall deadline →
// trace append + breaker feedback. The router is the only component that
// writes trace entries and the only caller of breaker mutation, which keeps
// every cross-cutting state change auditable at one call site.
//
// # Failure Posture
//
// Backend timeouts and errors never surface to the caller: they are absorbed
// by the fallback chain, and if every candidate fails the router synthesizes
// the supportive degraded response. The only hard failures are programming
// invariants, and even a panicking safety screen is closed toward the crisis
// path rather than allowed to escape.
package router

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/CairnCare/CairnLocal/services/backends"
	"github.com/CairnCare/CairnLocal/services/breaker"
	"github.com/CairnCare/CairnLocal/services/companion/datatypes"
	"github.com/CairnCare/CairnLocal/services/companion/frame"
	"github.com/CairnCare/CairnLocal/services/companion/observability"
	"github.com/CairnCare/CairnLocal/services/safety"
)

var tracer = otel.Tracer("cairn.companion.router")

// complexOrder is the fixed priority order for complex messages. Fallback
// order is data, not code: the breaker's allowed set filters this list, it
// never reorders it.
var complexOrder = []datatypes.BackendID{
	datatypes.BackendLocal,
	datatypes.BackendRemote,
	datatypes.BackendDeterministic,
}

// simpleOrder routes simple messages straight to the matcher.
var simpleOrder = []datatypes.BackendID{
	datatypes.BackendDeterministic,
}

// TraceLog is the slice of the trace store the router writes to.
type TraceLog interface {
	Append(ctx context.Context, entry datatypes.TraceEntry) error
}

// Config controls the router's timing and thresholds.
type Config struct {
	// Budget is the overall per-request deadline. Default: 3 seconds.
	Budget time.Duration

	// ConfidenceFloor is the minimum confidence for an ok result to count
	// as a positive breaker signal. Default: 0.35.
	ConfidenceFloor float64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Budget:          3 * time.Second,
		ConfidenceFloor: 0.35,
	}
}

// Router orchestrates one request through the pipeline.
//
// # Thread Safety
//
// Router is safe for concurrent use. Cross-turn state lives in the breaker
// registry and the trace store; the router itself only holds the per-user
// commit locks that keep trace append and breaker feedback in arrival order
// for a single user.
type Router struct {
	config   Config
	monitor  *safety.Monitor
	breakers *breaker.Registry
	frames   *frame.Builder
	backends map[datatypes.BackendID]backends.Backend
	traces   TraceLog
	metrics  *observability.RouterMetrics

	mu      sync.Mutex
	commits map[string]*sync.Mutex
}

// New creates a router over the given components.
//
// backendList is the closed set of adapters; missing backends are simply
// never candidates (a router without a remote adapter is valid and common
// in offline deployments).
func New(config Config, monitor *safety.Monitor, breakers *breaker.Registry,
	frames *frame.Builder, backendList []backends.Backend, traces TraceLog,
	metrics *observability.RouterMetrics) *Router {

	if config.Budget <= 0 {
		config.Budget = 3 * time.Second
	}
	if config.ConfidenceFloor <= 0 {
		config.ConfidenceFloor = 0.35
	}

	byID := make(map[datatypes.BackendID]backends.Backend, len(backendList))
	for _, b := range backendList {
		byID[b.ID()] = b
	}

	return &Router{
		config:   config,
		monitor:  monitor,
		breakers: breakers,
		frames:   frames,
		backends: byID,
		traces:   traces,
		metrics:  metrics,
		commits:  make(map[string]*sync.Mutex),
	}
}

// Respond runs the full pipeline for one inbound message.
//
// It always returns a response: crisis resource text, a backend answer, or
// the synthesized degraded fallback. It never returns an error to the caller.
func (r *Router) Respond(ctx context.Context, userID, text string) datatypes.RespondResponse {
	received := time.Now()
	msg := datatypes.Message{UserID: userID, Text: text, ReceivedAt: received}

	ctx, span := tracer.Start(ctx, "router.Respond")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID))

	deadline := received.Add(r.config.Budget)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	// Stage 1: mandatory safety screen. Unconditional, cannot be bypassed.
	verdict := r.screen(ctx, msg)
	if verdict.IsCrisis {
		span.SetAttributes(attribute.String("crisis_category", string(verdict.MatchedCategory)))
		r.metrics.RecordCrisis(string(verdict.MatchedCategory))

		status, _ := r.breakers.Snapshot(userID)
		r.commit(ctx, msg, verdict, status.String(), datatypes.BackendResult{},
			datatypes.OutcomeCrisis, nil, false)
		r.metrics.RecordRequest(string(datatypes.OutcomeCrisis), time.Since(received))

		return datatypes.RespondResponse{
			ResponseText: verdict.FixedResponse,
			Confidence:   1.0,
		}
	}

	// Stage 2: breaker check.
	decision := r.breakers.Check(userID)
	span.SetAttributes(attribute.String("breaker_status", decision.Status.String()))

	// Stage 3: bounded frame assembly.
	contextFrame := r.buildFrame(ctx, userID, received)

	// Stage 4: classify and order candidates.
	complexity := ClassifyComplexity(text)
	candidates, rejected := r.candidates(complexity, decision)
	if rejected != nil {
		slog.Info("Routing restricted by breaker",
			"user_id", userID, "status", decision.Status.String(), "error", rejected)
	}

	// Stage 5: ordered fallback under the shared deadline.
	final, tryErr := r.tryCandidates(ctx, candidates, msg, contextFrame, deadline)

	outcome := datatypes.OutcomeOK
	degraded := false
	if tryErr != nil {
		slog.Warn("All backend candidates failed, synthesizing fallback",
			"user_id", userID, "error", tryErr)
		span.SetStatus(codes.Error, tryErr.Error())
		degraded = true
		outcome = datatypes.OutcomeDegraded
		final = datatypes.BackendResult{
			ResponseText: r.monitor.DegradedFallback(),
			Outcome:      datatypes.OutcomeError,
		}
	}

	// Stage 6: one trace entry, one breaker signal, in arrival order per user.
	signal := breaker.SignalPositive
	if degraded || final.Confidence < r.config.ConfidenceFloor {
		signal = breaker.SignalNegative
	}
	r.commit(ctx, msg, verdict, decision.Status.String(), final, outcome, &signal,
		decision.Trial)

	r.metrics.RecordRequest(string(outcome), time.Since(received))
	return datatypes.RespondResponse{
		ResponseText: final.ResponseText,
		Actions:      final.Actions,
		BackendUsed:  string(final.BackendID),
		Confidence:   final.Confidence,
		Degraded:     degraded,
	}
}

// screen runs the safety monitor with a panic guard: a throwing monitor is a
// programming invariant violation and must close toward the safe path.
func (r *Router) screen(ctx context.Context, msg datatypes.Message) (verdict safety.Verdict) {
	_, span := tracer.Start(ctx, "safety.Screen")
	defer span.End()

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Safety monitor panicked, failing closed", "panic", rec)
			span.SetStatus(codes.Error, "safety monitor panic")
			verdict = safety.NewFailClosed().Screen(msg.Text)
		}
	}()
	return r.monitor.Screen(msg.Text)
}

func (r *Router) buildFrame(ctx context.Context, userID string, now time.Time) datatypes.ContextFrame {
	ctx, span := tracer.Start(ctx, "frame.Build")
	defer span.End()

	f := r.frames.Build(ctx, userID, now)
	span.SetAttributes(attribute.String("completeness", string(f.Completeness)))
	return f
}

// candidates intersects the fixed priority order for the complexity class
// with the breaker's allowed set, preserving order. The second return value
// reports (for logging only) that the breaker stripped reasoning backends.
func (r *Router) candidates(complexity Complexity, decision breaker.Decision) ([]backends.Backend, error) {
	order := simpleOrder
	if complexity == ComplexityComplex {
		order = complexOrder
	}

	var list []backends.Backend
	stripped := false
	for _, id := range order {
		b, registered := r.backends[id]
		if !registered {
			continue
		}
		if !decision.Allows(id) {
			stripped = true
			continue
		}
		list = append(list, b)
	}

	if stripped {
		return list, ErrBreakerRejected
	}
	return list, nil
}

// tryCandidates walks the candidate list in order, capping each attempt at
// min(remaining budget, the backend's own max). The first ok result wins.
func (r *Router) tryCandidates(ctx context.Context, candidates []backends.Backend,
	msg datatypes.Message, contextFrame datatypes.ContextFrame,
	deadline time.Time) (datatypes.BackendResult, error) {

	for _, b := range candidates {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return datatypes.BackendResult{}, ErrBudgetExceeded
		}
		attemptBudget := remaining
		if limit := b.MaxAttempt(); limit < attemptBudget {
			attemptBudget = limit
		}

		actx, acancel := context.WithTimeout(ctx, attemptBudget)
		ictx, span := tracer.Start(actx, "backend.Invoke")
		span.SetAttributes(attribute.String("backend", string(b.ID())))

		res, err := b.Invoke(ictx, msg, contextFrame)

		r.metrics.RecordAttempt(string(b.ID()), string(res.Outcome))
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			slog.Warn("Backend attempt failed",
				"backend", b.ID(), "outcome", res.Outcome,
				"latency_ms", res.LatencyMS, "error", err)
		}
		span.End()
		acancel() // releases the attempt context and any held session slot

		if res.Outcome == datatypes.OutcomeOK {
			return res, nil
		}
	}

	if time.Until(deadline) <= 0 {
		return datatypes.BackendResult{}, ErrBudgetExceeded
	}
	return datatypes.BackendResult{}, ErrAllBackendsFailed
}

// commit writes the trace entry and, for non-crisis turns, feeds the breaker.
// Both happen under the user's commit lock so a user's turns land in arrival
// order; different users never contend. trial marks the half-open trial turn
// so only its signal resolves that state.
func (r *Router) commit(ctx context.Context, msg datatypes.Message,
	verdict safety.Verdict, breakerStatus string, final datatypes.BackendResult,
	outcome datatypes.Outcome, signal *breaker.Signal, trial bool) {

	lock := r.commitLock(msg.UserID)
	lock.Lock()
	defer lock.Unlock()

	entry := datatypes.TraceEntry{
		ID:            uuid.NewString(),
		UserID:        msg.UserID,
		Timestamp:     msg.ReceivedAt,
		MessageDigest: digest(msg.Text),
		Crisis:        verdict.IsCrisis,
		BreakerStatus: breakerStatus,
		BackendUsed:   final.BackendID,
		Confidence:    final.Confidence,
		Outcome:       outcome,
	}
	if verdict.IsCrisis {
		entry.CrisisCategory = string(verdict.MatchedCategory)
	}

	// The trace append must survive an already-expired request budget.
	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := r.traces.Append(appendCtx, entry); err != nil {
		slog.Error("Failed to append trace entry",
			"user_id", msg.UserID, "entry_id", entry.ID, "error", err)
	}

	if signal != nil {
		r.breakers.RecordOutcome(msg.UserID, *signal, trial)
	}
}

// commitLock returns the per-user commit mutex, creating it on first use.
func (r *Router) commitLock(userID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.commits[userID]
	if !ok {
		lock = &sync.Mutex{}
		r.commits[userID] = lock
	}
	return lock
}

// digest hashes message text for the trace record; raw text never lands in
// the store.
func digest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:8])
}
