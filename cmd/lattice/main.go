// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command lattice builds a lattice from configuration and drives it.
//
// # Commands
//
//	lattice run                 step the engine until interrupted
//	lattice serve               expose the inspection API (optionally running the engine)
//	lattice walk RIGHT,DOWN     replay a path on the configured grid
//	lattice checkpoint list     list stored checkpoints
//
// # Configuration
//
// --config names a YAML or JSON file. LATTICE_* environment variables
// override it, and defaults fill the rest. See services/lattice/config.
//
// # Usage
//
//	go build -o lattice ./cmd/lattice
//	./lattice serve --config lattice.yaml --run
//	curl http://127.0.0.1:12250/v1/lattice/stats | jq
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
