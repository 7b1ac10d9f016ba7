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


// Package store implements maintenance commands for the local trace store.
package store

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/tracelight/internal/commands/shared"
	"github.com/tombee/tracelight/pkg/tracing/persist"
)

// NewCommand creates the store command and its subcommands.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Manage the local trace store",
	}
	cmd.AddCommand(newKeygenCommand())
	return cmd
}

func newKeygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a message encryption key",
		Long: fmt.Sprintf(`Generate a random key for encrypting stored message content.

Export it as %s and set store.encrypt with store.mode sqlite.`, persist.KeyEnvVar),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := persist.GenerateEncryptionKey()
			if err != nil {
				return shared.NewExecutionError("failed to generate key", err)
			}
			if shared.GetJSON() {
				return shared.EmitJSON(cmd.OutOrStdout(), "store keygen", map[string]string{
					"env": persist.KeyEnvVar,
					"key": key.String(),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", persist.KeyEnvVar, key.String())
			return nil
		},
	}
}
