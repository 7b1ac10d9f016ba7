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
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/tracelight/internal/commands/shared"
	"github.com/tombee/tracelight/pkg/observability"
)

type listOptions struct {
	user  string
	label string
	page  int
	limit int
	times timeFlags
}

func newListCommand() *cobra.Command {
	opts := &listOptions{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		Example: `  # Sessions from the last day
  tracelight sessions list --since 24h

  # Second page of a user's sessions
  tracelight sessions list --user u-123 --page 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.user, "user", "", "Filter by user id")
	cmd.Flags().StringVar(&opts.label, "label", "", "Filter by label substring")
	cmd.Flags().IntVar(&opts.page, "page", 1, "Page number, starting at 1")
	cmd.Flags().IntVar(&opts.limit, "limit", observability.DefaultPageLimit, "Sessions per page")
	opts.times.register(cmd)

	return cmd
}

func runList(cmd *cobra.Command, opts *listOptions) error {
	tr, err := opts.times.timeRange(time.Now())
	if err != nil {
		return err
	}
	filter := observability.ListFilter{
		UserID:        opts.user,
		LabelContains: opts.label,
		TimeRange:     tr,
		Page:          opts.page,
		Limit:         opts.limit,
	}

	return withRecorder(cmd, func(ctx context.Context, rec observability.Recorder) error {
		page, err := rec.ListSessions(ctx, filter)
		if err != nil {
			return shared.NewQueryError("failed to list sessions", err)
		}

		out := cmd.OutOrStdout()
		if shared.GetJSON() {
			return shared.EmitJSON(out, "sessions list", page)
		}

		if len(page.Sessions) == 0 {
			fmt.Fprintln(out, "No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SESSION\tLABEL\tUSER\tSTATUS\tSPANS\tTOKENS\tCOST\tSTARTED\tDURATION")
		for _, s := range page.Sessions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d/%d\t$%.4f\t%s\t%s\n",
				shortID(s.ID),
				dash(s.Label),
				dash(s.UserID),
				shared.RenderSessionStatus(s.Status),
				s.TotalSpans,
				s.TotalInputTokens, s.TotalOutputTokens,
				s.TotalCostUSD,
				formatTime(s.StartedAt),
				sessionDuration(s),
			)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		pages := 1
		if page.Limit > 0 && page.Total > 0 {
			pages = (page.Total + page.Limit - 1) / page.Limit
		}
		fmt.Fprintln(out, shared.RenderLabel(fmt.Sprintf("page %d of %d (%d sessions)", page.Page, pages, page.Total)))
		return nil
	})
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
