// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


/*
Package cli provides the root command for the tracelight CLI.

This package creates the Cobra command tree and handles global concerns like
version information, persistent flags, and error handling. Individual commands
are implemented in the internal/commands subpackages.

# Command Tree

	tracelight
	├── serve         Run the recorder API server
	├── sessions
	│   ├── list      List sessions, newest first
	│   ├── show      Show a session and its messages
	│   ├── graph     Print the span tree of a session
	│   └── summary   Aggregate totals over sessions
	├── pricing
	│   ├── list      List known model prices
	│   └── cost      Estimate the cost of a call
	├── store
	│   └── keygen    Generate a message encryption key
	└── version       Show version

# Global Flags

	--verbose, -v    Enable debug logging
	--json           Output in JSON format
	--config         Path to config file
	--store          Durable store directory
	--remote         Hosted service URL

# Error Handling

Errors are handled centrally to ensure proper exit codes:

  - Exit 0: Success
  - Exit 1: General error
  - Exit 2: Invalid configuration
  - Exit 3: Session not found
  - Exit 4: Hosted service unreachable
*/
package cli
