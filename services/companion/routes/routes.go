// Copyright (C) 2025 Cairn Care (maintainers@cairncare.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes registers the companion service's HTTP routes.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CairnCare/CairnLocal/services/companion/handlers"
	"github.com/CairnCare/CairnLocal/services/companion/router"
)

// SetupRoutes wires all endpoints onto the engine.
func SetupRoutes(engine *gin.Engine, cogRouter *router.Router, enableMetrics bool) {
	engine.GET("/health", handlers.HealthCheck)
	if enableMetrics {
		engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// API version 1 group
	v1 := engine.Group("/v1")
	{
		v1.POST("/respond", handlers.HandleRespond(cogRouter))
	}
}
