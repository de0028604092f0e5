// Copyright (C) 2025 Cairn Care (maintainers@cairncare.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
This file serves as the bridge between the build system and the runtime logic.
It uses the Go embed package to bake the crisis_patterns.yaml file directly
into the compiled binary, so the screening rules are immutable at runtime and
travel with the executable.
*/

package enforcement

import (
	_ "embed"
)

// CrisisPatterns holds the raw byte content of the 'crisis_patterns.yaml' file.
//
// Populated at compile time via the Go 'embed' directive. Baking the YAML into
// the binary guarantees the safety rules cannot be tampered with on the host
// filesystem without recompiling the application.
//
// Usage:
//
//	// Pass these bytes directly to yaml.Unmarshal
//	err := yaml.Unmarshal(enforcement.CrisisPatterns, &targetStruct)
//
//go:embed crisis_patterns.yaml
var CrisisPatterns []byte
