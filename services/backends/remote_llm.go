// Copyright (C) 2025 Cairn Care (maintainers@cairncare.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package backends

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/CairnCare/CairnLocal/services/companion/datatypes"
)

const (
	// remoteMaxAttempt caps one remote attempt. The remote service is the
	// slowest and most variable backend in the set.
	remoteMaxAttempt = 10 * time.Second

	// remoteConfidence is assigned to successful remote completions.
	remoteConfidence = 0.9

	remoteMaxTokens = 200
)

// Remote invokes an OpenAI-compatible chat API.
//
// # Session Discipline
//
// The remote service keeps per-user session state, so at most
// maxSessionsPerUser invocations may run concurrently for one user. The
// permit is a per-user weighted semaphore: a second concurrent request for
// the same user waits for the slot under its own deadline, and a cancelled
// attempt releases the slot on return, so a retried request is never
// permanently blocked.
//
// # Thread Safety
//
// Remote is safe for concurrent use.
type Remote struct {
	client      *openai.Client
	model       string
	limiter     *rate.Limiter
	maxSessions int64

	mu       sync.Mutex
	sessions map[string]*semaphore.Weighted
}

// NewRemote creates a remote-assisted adapter.
//
// maxSessionsPerUser <= 0 applies the default of 1. The shared rate limiter
// keeps a burst of fallback retries from hammering the remote quota.
func NewRemote(apiKey, model string, maxSessionsPerUser int) (*Remote, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("remote API key not set")
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("Remote model not set, defaulting", "model", model)
	}
	if maxSessionsPerUser <= 0 {
		maxSessionsPerUser = 1
	}
	return &Remote{
		client:      openai.NewClient(apiKey),
		model:       model,
		limiter:     rate.NewLimiter(rate.Limit(2), 4),
		maxSessions: int64(maxSessionsPerUser),
		sessions:    make(map[string]*semaphore.Weighted),
	}, nil
}

func (r *Remote) ID() datatypes.BackendID {
	return datatypes.BackendRemote
}

func (r *Remote) MaxAttempt() time.Duration {
	return remoteMaxAttempt
}

// session returns the permit semaphore for a user, creating it on first use.
func (r *Remote) session(userID string) *semaphore.Weighted {
	r.mu.Lock()
	defer r.mu.Unlock()
	sem, ok := r.sessions[userID]
	if !ok {
		sem = semaphore.NewWeighted(r.maxSessions)
		r.sessions[userID] = sem
	}
	return sem
}

// Invoke acquires the user's session permit, then calls the chat API under
// the context deadline. Waiting for the permit counts against the deadline.
func (r *Remote) Invoke(ctx context.Context, msg datatypes.Message,
	frame datatypes.ContextFrame) (datatypes.BackendResult, error) {

	start := time.Now()

	sem := r.session(msg.UserID)
	if err := sem.Acquire(ctx, 1); err != nil {
		return failure(r.ID(), start, datatypes.OutcomeTimeout,
			fmt.Errorf("remote session slot unavailable: %w", err))
	}
	defer sem.Release(1)

	if err := r.limiter.Wait(ctx); err != nil {
		return failure(r.ID(), start, datatypes.OutcomeTimeout,
			fmt.Errorf("remote rate limit wait: %w", err))
	}

	req := openai.ChatCompletionRequest{
		Model:               r.model,
		MaxCompletionTokens: remoteMaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: promptFromFrame(frame)},
			{Role: openai.ChatMessageRoleUser, Content: msg.Text},
		},
	}

	resp, err := r.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return failure(r.ID(), start, outcomeForError(ctx, err),
			fmt.Errorf("remote chat completion failed: %w", err))
	}
	if len(resp.Choices) == 0 {
		return failure(r.ID(), start, datatypes.OutcomeError,
			fmt.Errorf("remote backend returned no choices"))
	}

	text := resp.Choices[0].Message.Content
	if text == "" {
		return failure(r.ID(), start, datatypes.OutcomeError,
			fmt.Errorf("remote backend returned empty content"))
	}

	return result(r.ID(), start, datatypes.OutcomeOK, text, remoteConfidence, nil), nil
}
