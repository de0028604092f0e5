// Copyright (C) 2025 Cairn Care (maintainers@cairncare.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers contains the Gin handlers for the companion service.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/CairnCare/CairnLocal/services/companion/datatypes"
	"github.com/CairnCare/CairnLocal/services/companion/router"
)

var respondTracer = otel.Tracer("cairn.companion.handlers")

// HandleRespond runs one message through the routing pipeline.
//
// The pipeline itself never fails: a crisis, a backend answer, or the
// degraded fallback all come back as 200. The only 4xx here is a payload
// that fails validation before the pipeline is entered.
func HandleRespond(cogRouter *router.Router) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := respondTracer.Start(c.Request.Context(), "HandleRespond")
		defer span.End()

		var req datatypes.RespondRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to parse the respond request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			span.RecordError(err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp := cogRouter.Respond(ctx, req.UserID, req.Text)
		c.JSON(http.StatusOK, resp)
	}
}

// HealthCheck reports service liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "companion"})
}
