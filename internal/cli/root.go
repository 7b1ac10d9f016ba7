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


package cli

import (
	"github.com/spf13/cobra"

	"github.com/tombee/tracelight/internal/commands/pricing"
	"github.com/tombee/tracelight/internal/commands/serve"
	"github.com/tombee/tracelight/internal/commands/sessions"
	"github.com/tombee/tracelight/internal/commands/shared"
	"github.com/tombee/tracelight/internal/commands/store"
	"github.com/tombee/tracelight/internal/commands/version"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command for tracelight with every
// subcommand attached.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tracelight",
		Short: "tracelight - session tracing for LLM applications",
		Long: `tracelight records the spans, messages and costs of LLM application
sessions and answers queries about them.

Run 'tracelight serve' to accept traces from remote clients.
Run 'tracelight sessions list' to browse what has been recorded.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	flags := shared.RegisterFlagPointers()

	cmd.PersistentFlags().BoolVarP(flags.Verbose, "verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVar(flags.JSON, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVar(flags.Config, "config", "", "Path to config file (default: none, environment only)")
	cmd.PersistentFlags().StringVar(flags.Store, "store", "", "Durable store directory to read or serve")
	cmd.PersistentFlags().StringVar(flags.Remote, "remote", "", "Query a hosted service at this URL instead of the local store")

	cmd.AddCommand(serve.NewCommand())
	cmd.AddCommand(sessions.NewCommand())
	cmd.AddCommand(pricing.NewCommand())
	cmd.AddCommand(store.NewCommand())
	cmd.AddCommand(version.NewVersionCommand())

	return cmd
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return shared.GetVersion()
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
