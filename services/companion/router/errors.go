// Copyright (C) 2025 Cairn Care (maintainers@cairncare.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package router

import "errors"

// Routing failure taxonomy. All of these are absorbed inside Respond - they
// drive the fallback chain and the trace outcome, and never surface to the
// service boundary.
var (
	// ErrBudgetExceeded means the overall deadline was reached before any
	// backend produced an ok result.
	ErrBudgetExceeded = errors.New("request budget exceeded before a backend succeeded")

	// ErrAllBackendsFailed means every candidate ended in timeout or error
	// while budget remained.
	ErrAllBackendsFailed = errors.New("all candidate backends failed")

	// ErrBreakerRejected means the breaker stripped every reasoning backend
	// from the candidate list, leaving only the deterministic path.
	ErrBreakerRejected = errors.New("breaker rejected complex backends")
)
