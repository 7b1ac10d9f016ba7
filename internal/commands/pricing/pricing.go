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


// Package pricing implements the commands that inspect the model price
// table used to cost LLM spans.
package pricing

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/tracelight/internal/commands/shared"
	"github.com/tombee/tracelight/pkg/llm/pricing"
)

// staleAfter is how old a price may get before list flags it.
const staleAfter = 180 * 24 * time.Hour

// NewCommand creates the pricing command and its subcommands.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pricing",
		Short: "Inspect model prices",
		Long: `Inspect the per-model prices used to cost LLM spans. Built-in prices
can be overridden with a YAML file set by pricing.path or
TRACELIGHT_PRICING_PATH.`,
	}

	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newCostCommand())

	return cmd
}

func loadManager() (*pricing.Manager, error) {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return nil, err
	}
	m, err := pricing.NewManagerFromFile(cfg.Pricing.Path)
	if err != nil {
		return nil, shared.NewConfigError("failed to load pricing", err)
	}
	return m, nil
}

func newListCommand() *cobra.Command {
	var provider string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known model prices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := loadManager()
			if err != nil {
				return err
			}

			var models []pricing.ModelPricing
			for _, mp := range m.Models() {
				if provider == "" || mp.Provider == provider {
					models = append(models, mp)
				}
			}

			out := cmd.OutOrStdout()
			if shared.GetJSON() {
				return shared.EmitJSON(out, "pricing list", models)
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tMODEL\tINPUT/M\tOUTPUT/M\tEFFECTIVE")
			for _, mp := range models {
				in, outPrice := fmt.Sprintf("$%.2f", mp.InputPricePerMillion), fmt.Sprintf("$%.2f", mp.OutputPricePerMillion)
				if mp.IsSubscription {
					in, outPrice = "subscription", "subscription"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					mp.Provider, mp.Model, in, outPrice, mp.EffectiveDate.Format("2006-01-02"))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if stale := m.Stale(time.Now(), staleAfter); len(stale) > 0 {
				fmt.Fprintln(out, shared.StatusWarn.Render(
					fmt.Sprintf("%d prices are more than %d days old", len(stale), int(staleAfter.Hours()/24))))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "Only list models of this provider")
	return cmd
}

// CostEstimate is the JSON form of pricing cost.
type CostEstimate struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

func newCostCommand() *cobra.Command {
	var usage pricing.TokenUsage
	cmd := &cobra.Command{
		Use:   "cost <model>",
		Short: "Estimate the cost of a call",
		Example: `  tracelight pricing cost claude-sonnet-4 --input 12000 --output 800
  tracelight pricing cost openai:gpt-4o --input 5000`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadManager()
			if err != nil {
				return err
			}
			mp, ok := m.Lookup(args[0])
			if !ok {
				return shared.NewExecutionError("no price for model "+args[0],
					fmt.Errorf("run 'tracelight pricing list' to see known models"))
			}
			cost := pricing.CalculateCost(&mp, usage)

			out := cmd.OutOrStdout()
			if shared.GetJSON() {
				return shared.EmitJSON(out, "pricing cost", CostEstimate{
					Provider:     mp.Provider,
					Model:        mp.Model,
					InputTokens:  usage.InputTokens,
					OutputTokens: usage.OutputTokens,
					CostUSD:      cost.Amount,
				})
			}
			fmt.Fprintf(out, "%s:%s %s\n", mp.Provider, mp.Model, pricing.FormatCost(cost))
			return nil
		},
	}
	cmd.Flags().Int64Var(&usage.InputTokens, "input", 0, "Input tokens")
	cmd.Flags().Int64Var(&usage.OutputTokens, "output", 0, "Output tokens")
	cmd.Flags().Int64Var(&usage.CacheCreationTokens, "cache-write", 0, "Prompt cache write tokens")
	cmd.Flags().Int64Var(&usage.CacheReadTokens, "cache-read", 0, "Prompt cache read tokens")
	return cmd
}
