// Copyright (C) 2025 Cairn Care (maintainers@cairncare.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package frame assembles the bounded situational context snapshot for one
// request.
//
// The builder queries each external source and the trace store concurrently,
// each under its own timebox inside the frame sub-deadline. A source that
// does not answer is recorded as unknown for its fields rather than blocking
// the frame: a stale or partial frame is always preferable to a late
// response. Build never returns an error.
package frame

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/CairnCare/CairnLocal/services/companion/datatypes"
	"github.com/CairnCare/CairnLocal/services/tracestore"
)

// TraceReader is the slice of the trace store the builder needs.
type TraceReader interface {
	Recent(ctx context.Context, userID string, k int) ([]datatypes.TraceEntry, error)
}

// Config controls frame assembly timing and bounds.
type Config struct {
	// SubDeadline bounds the whole Build call. Default: 300ms.
	SubDeadline time.Duration

	// SourceTimebox bounds each individual source query. Default: the
	// sub-deadline (sources race each other inside it).
	SourceTimebox time.Duration

	// RecentK is how many trace entries ride along in the frame. Default: 5.
	RecentK int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SubDeadline: 300 * time.Millisecond,
		RecentK:     5,
	}
}

// Builder assembles context frames.
//
// # Thread Safety
//
// Builder is immutable after construction and safe for concurrent use.
type Builder struct {
	config  Config
	sources []Source
	traces  TraceReader
}

// NewBuilder creates a builder over the given sources and trace reader.
// A nil traces reader degrades every frame to minimal completeness.
func NewBuilder(config Config, sources []Source, traces TraceReader) *Builder {
	if config.SubDeadline <= 0 {
		config.SubDeadline = 300 * time.Millisecond
	}
	if config.SourceTimebox <= 0 || config.SourceTimebox > config.SubDeadline {
		config.SourceTimebox = config.SubDeadline
	}
	if config.RecentK <= 0 {
		config.RecentK = 5
	}
	return &Builder{config: config, sources: sources, traces: traces}
}

// Build assembles a best-effort frame for the user as of now.
//
// The parent context's deadline still applies if it is tighter than the
// frame sub-deadline.
func (b *Builder) Build(ctx context.Context, userID string, now time.Time) datatypes.ContextFrame {
	frame := datatypes.ContextFrame{
		AsOf:      now,
		TimeOfDay: datatypes.BucketForTime(now),
	}

	ctx, cancel := context.WithTimeout(ctx, b.config.SubDeadline)
	defer cancel()

	var (
		mu       sync.Mutex
		answered int
		traceOK  = false
	)

	g, gctx := errgroup.WithContext(ctx)

	for _, src := range b.sources {
		g.Go(func() error {
			qctx, qcancel := context.WithTimeout(gctx, b.config.SourceTimebox)
			defer qcancel()

			report, err := src.Query(qctx, userID)
			if err != nil {
				// Absorbed: the field stays unknown.
				slog.Debug("Frame source unavailable", "source", src.Name(), "error", err)
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			answered++
			if report.UserState != nil {
				frame.UserState = report.UserState
			}
			if len(report.Environment) > 0 {
				if frame.EnvironmentState == nil {
					frame.EnvironmentState = make(map[string]string, len(report.Environment))
				}
				for k, v := range report.Environment {
					frame.EnvironmentState[k] = v
				}
			}
			if len(report.Calendar) > 0 {
				frame.CalendarItems = append(frame.CalendarItems, report.Calendar...)
			}
			return nil
		})
	}

	g.Go(func() error {
		if b.traces == nil {
			return nil
		}
		qctx, qcancel := context.WithTimeout(gctx, b.config.SourceTimebox)
		defer qcancel()

		entries, err := b.traces.Recent(qctx, userID, b.config.RecentK)
		if err != nil {
			slog.Warn("Trace store unavailable for frame", "user_id", userID, "error", err)
			return nil
		}

		mu.Lock()
		defer mu.Unlock()
		traceOK = true
		frame.RecentTrace = tracestore.Summaries(entries)
		return nil
	})

	// Workers never return errors; Wait is just the join point.
	_ = g.Wait()

	switch {
	case !traceOK:
		frame.Completeness = datatypes.CompletenessMinimal
	case answered == len(b.sources):
		frame.Completeness = datatypes.CompletenessFull
	default:
		frame.Completeness = datatypes.CompletenessPartial
	}
	return frame
}
