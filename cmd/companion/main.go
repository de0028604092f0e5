// Copyright (C) 2025 Cairn Care (maintainers@cairncare.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command companion starts the CairnLocal companion HTTP server.
//
// This is the main entry point for the containerized companion service.
// It reads configuration from environment variables and starts the server.
//
// # Environment Variables
//
//   - COMPANION_PORT: HTTP server port (default: 12310)
//   - ROUTER_DEADLINE_MS: overall per-request budget (default: 3000)
//   - BREAKER_THRESHOLD: negative signals before the breaker opens (default: 3)
//   - BREAKER_COOLDOWN_S: initial open cooldown in seconds (default: 120)
//   - REMOTE_MAX_SESSIONS: concurrent remote sessions per user (default: 1)
//   - FRAME_DEADLINE_MS: frame assembly sub-deadline (default: 300)
//   - LOCAL_LLM_URL: llama.cpp-style inference server (optional)
//   - REMOTE_API_KEY / REMOTE_MODEL: remote-assisted backend (optional)
//   - ENV_SOURCE_URL / CALENDAR_SOURCE_URL: frame state sources (optional)
//   - TRACE_DB_PATH: BadgerDB directory (default: ./data/trace)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector
//     (default: cairn-otel-collector:4317)
//
// # Usage
//
//	# Build
//	go build -o companion ./cmd/companion
//
//	# Run
//	./companion
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/CairnCare/CairnLocal/pkg/logging"
	"github.com/CairnCare/CairnLocal/services/companion"
)

func main() {
	// Setup structured logging
	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		Service: "companion",
		LogDir:  os.Getenv("COMPANION_LOG_DIR"),
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	cfg := companion.Config{
		Port:              getEnvInt("COMPANION_PORT", 12310),
		Budget:            time.Duration(getEnvInt("ROUTER_DEADLINE_MS", 3000)) * time.Millisecond,
		BreakerThreshold:  getEnvInt("BREAKER_THRESHOLD", 3),
		BreakerCooldown:   time.Duration(getEnvInt("BREAKER_COOLDOWN_S", 120)) * time.Second,
		RemoteMaxSessions: getEnvInt("REMOTE_MAX_SESSIONS", 1),
		FrameDeadline:     time.Duration(getEnvInt("FRAME_DEADLINE_MS", 300)) * time.Millisecond,
		LocalLLMURL:       os.Getenv("LOCAL_LLM_URL"),
		RemoteAPIKey:      os.Getenv("REMOTE_API_KEY"),
		RemoteModel:       os.Getenv("REMOTE_MODEL"),
		EnvSourceURL:      os.Getenv("ENV_SOURCE_URL"),
		CalendarSourceURL: os.Getenv("CALENDAR_SOURCE_URL"),
		TraceDBPath:       getEnvString("TRACE_DB_PATH", "./data/trace"),
		OTelEndpoint:      getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "cairn-otel-collector:4317"),
		EnableMetrics:     true,
	}

	slog.Info("Starting companion",
		"port", cfg.Port,
		"budget", cfg.Budget,
		"local_backend", cfg.LocalLLMURL != "",
		"remote_backend", cfg.RemoteAPIKey != "",
	)

	svc, err := companion.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create companion: %v", err)
	}
	defer svc.Close()

	if err := svc.Run(); err != nil {
		log.Fatalf("Companion error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
