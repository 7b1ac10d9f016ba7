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


package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/tracelight/internal/commands/shared"
	"github.com/tombee/tracelight/pkg/observability"
)

func newSummaryCommand() *cobra.Command {
	var times timeFlags
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Aggregate totals over sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tr, err := times.timeRange(time.Now())
			if err != nil {
				return err
			}
			return withRecorder(cmd, func(ctx context.Context, rec observability.Recorder) error {
				summary, err := rec.GetSessionsSummary(ctx, tr)
				if err != nil {
					return shared.NewQueryError("failed to summarize sessions", err)
				}

				out := cmd.OutOrStdout()
				if shared.GetJSON() {
					return shared.EmitJSON(out, "sessions summary", summary)
				}

				avg := time.Duration(summary.AvgDurationMS * float64(time.Millisecond)).Round(time.Millisecond)
				fmt.Fprintf(out, "%s %d\n", shared.RenderLabel("Sessions:"), summary.TotalSessions)
				fmt.Fprintf(out, "%s %d\n", shared.RenderLabel("Active:"), summary.ActiveSessions)
				fmt.Fprintf(out, "%s $%.4f\n", shared.RenderLabel("Total cost:"), summary.TotalCostUSD)
				fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("Avg duration:"), avg)
				fmt.Fprintf(out, "%s %.1f%%\n", shared.RenderLabel("Error rate:"), summary.ErrorRate*100)
				return nil
			})
		},
	}
	times.register(cmd)
	return cmd
}
