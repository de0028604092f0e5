// Copyright (C) 2025 Cairn Care (maintainers@cairncare.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package companion provides the core companion service for CairnLocal.
//
// This package contains the Service type that coordinates all components of
// the routing pipeline: safety monitor, circuit breaker registry, frame
// builder, backend adapters, trace store, HTTP routing, and observability
// infrastructure.
//
// # Usage
//
//	cfg := companion.Config{Port: 12310}
//	svc, err := companion.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package companion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/CairnCare/CairnLocal/services/backends"
	"github.com/CairnCare/CairnLocal/services/breaker"
	"github.com/CairnCare/CairnLocal/services/companion/frame"
	"github.com/CairnCare/CairnLocal/services/companion/observability"
	"github.com/CairnCare/CairnLocal/services/companion/router"
	"github.com/CairnCare/CairnLocal/services/companion/routes"
	"github.com/CairnCare/CairnLocal/services/safety"
	"github.com/CairnCare/CairnLocal/services/tracestore"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the companion service.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and should
// only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine

	// Close releases the trace store and flushes the tracer.
	Close() error
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds companion service configuration.
//
// All fields have sensible defaults applied by New(); values are normally
// populated from environment variables by cmd/companion.
type Config struct {
	// Port is the HTTP server port. Default: 12310
	Port int

	// Budget is the overall per-request deadline. Default: 3s
	Budget time.Duration

	// BreakerThreshold is consecutive negative signals before the breaker
	// opens. Default: 3
	BreakerThreshold int

	// BreakerCooldown is the initial open duration. Default: 2 minutes
	BreakerCooldown time.Duration

	// RemoteMaxSessions is the concurrent remote session cap per user.
	// Default: 1
	RemoteMaxSessions int

	// FrameDeadline bounds frame assembly. Default: 300ms
	FrameDeadline time.Duration

	// LocalLLMURL is the local inference server base URL.
	// If empty, the local backend is disabled.
	LocalLLMURL string

	// RemoteAPIKey authenticates the remote-assisted backend.
	// If empty, the remote backend is disabled.
	RemoteAPIKey string

	// RemoteModel is the remote model identifier. Default applied by the
	// remote adapter.
	RemoteModel string

	// EnvSourceURL is the environment/device state collaborator.
	// If empty, that source is skipped.
	EnvSourceURL string

	// CalendarSourceURL is the calendar/tasks collaborator.
	// If empty, that source is skipped.
	CalendarSourceURL string

	// TraceDBPath is the BadgerDB directory for the trace store.
	// Default: "./data/trace"
	TraceDBPath string

	// TraceInMemory runs the trace store in memory (testing).
	TraceInMemory bool

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "cairn-otel-collector:4317"
	OTelEndpoint string

	// EnableMetrics enables the Prometheus /metrics endpoint. Default: true
	EnableMetrics bool

	// GinMode sets the Gin framework mode ("debug", "release", "test").
	GinMode string
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.Budget <= 0 {
		cfg.Budget = 3 * time.Second
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 3
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 2 * time.Minute
	}
	if cfg.RemoteMaxSessions <= 0 {
		cfg.RemoteMaxSessions = 1
	}
	if cfg.FrameDeadline <= 0 {
		cfg.FrameDeadline = 300 * time.Millisecond
	}
	if cfg.TraceDBPath == "" {
		cfg.TraceDBPath = "./data/trace"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "cairn-otel-collector:4317"
	}
	return cfg
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns; mutable cross-turn state lives inside the breaker registry and
// trace store.
type service struct {
	config        Config
	engine        *gin.Engine
	cogRouter     *router.Router
	traces        *tracestore.Store
	tracerCleanup func(context.Context)
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a companion Service with the given configuration.
//
// New initializes, in order: OTel tracing, Prometheus metrics, the safety
// monitor (falling back to fail-closed on a broken pattern table), the trace
// store, the breaker registry, the backend adapters, the frame builder, the
// cognitive router, and the HTTP routes.
//
// A missing local or remote backend is not fatal - the deterministic matcher
// alone is a valid (if limited) deployment. A broken trace store is fatal:
// it holds the audit record.
func New(cfg Config) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	var metrics *observability.RouterMetrics
	if s.config.EnableMetrics {
		metrics = observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics for the router")
	}

	// Safety monitor: fail closed, never fail open.
	monitor, err := safety.NewMonitor()
	if err != nil {
		slog.Error("Safety pattern table failed to load, running fail-closed",
			"error", err)
		monitor = safety.NewFailClosed()
	} else {
		slog.Info("Loaded crisis pattern table", "version", monitor.Version())
	}

	// Trace store.
	traceCfg := tracestore.DefaultConfig(s.config.TraceDBPath)
	if s.config.TraceInMemory {
		traceCfg = tracestore.InMemoryConfig()
	}
	s.traces, err = tracestore.Open(traceCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace store: %w", err)
	}

	// Breaker registry with transition metrics.
	breakers := breaker.NewRegistry(breaker.Config{
		Threshold: s.config.BreakerThreshold,
		Cooldown:  s.config.BreakerCooldown,
		OnStateChange: func(userID string, from, to breaker.Status) {
			slog.Info("Breaker transition",
				"user_id", userID, "from", from.String(), "to", to.String())
			metrics.RecordBreakerTransition(to.String())
		},
	})

	// Backend adapters. Deterministic is always present.
	backendList := []backends.Backend{backends.NewDeterministic()}
	if s.config.LocalLLMURL != "" {
		local, err := backends.NewLocal(s.config.LocalLLMURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize local backend: %w", err)
		}
		backendList = append(backendList, local)
	} else {
		slog.Warn("Local inference URL not set, local backend disabled")
	}
	if s.config.RemoteAPIKey != "" {
		remote, err := backends.NewRemote(s.config.RemoteAPIKey,
			s.config.RemoteModel, s.config.RemoteMaxSessions)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize remote backend: %w", err)
		}
		backendList = append(backendList, remote)
	} else {
		slog.Warn("Remote API key not set, remote backend disabled")
	}

	// Frame builder over the configured external sources.
	var sources []frame.Source
	if s.config.EnvSourceURL != "" {
		src, err := frame.NewHTTPSource("environment", s.config.EnvSourceURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize environment source: %w", err)
		}
		sources = append(sources, src)
	}
	if s.config.CalendarSourceURL != "" {
		src, err := frame.NewHTTPSource("calendar", s.config.CalendarSourceURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize calendar source: %w", err)
		}
		sources = append(sources, src)
	}
	frames := frame.NewBuilder(frame.Config{
		SubDeadline: s.config.FrameDeadline,
	}, sources, s.traces)

	s.cogRouter = router.New(router.Config{Budget: s.config.Budget},
		monitor, breakers, frames, backendList, s.traces, metrics)

	s.initEngine()
	return s, nil
}

// initEngine configures the Gin engine and routes.
func (s *service) initEngine() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	engine := gin.Default()
	engine.Use(otelgin.Middleware("cairn-companion"))
	routes.SetupRoutes(engine, s.cogRouter, s.config.EnableMetrics)
	s.engine = engine
}

// initTracer sets up the OTLP gRPC trace exporter.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("cairn-companion"),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		if err := tp.Shutdown(ctx); err != nil {
			slog.Warn("Tracer shutdown failed", "error", err)
		}
	}, nil
}

// =============================================================================
// Lifecycle
// =============================================================================

// Run starts the HTTP server. Blocks until the server stops.
func (s *service) Run() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Companion service listening", "addr", addr)
	return s.engine.Run(addr)
}

// Router returns the configured Gin engine.
func (s *service) Router() *gin.Engine {
	return s.engine
}

// Close flushes the tracer and closes the trace store.
func (s *service) Close() error {
	if s.tracerCleanup != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.tracerCleanup(ctx)
	}
	return s.traces.Close()
}
