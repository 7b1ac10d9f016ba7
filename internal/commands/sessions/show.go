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
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/tracelight/internal/commands/shared"
	"github.com/tombee/tracelight/pkg/observability"
)

func newShowCommand() *cobra.Command {
	var (
		raw    bool
		spanID string
	)
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRecorder(cmd, func(ctx context.Context, rec observability.Recorder) error {
				details, err := rec.GetSessionDetails(ctx, args[0])
				if err != nil {
					return shared.NewQueryError("failed to fetch session", err)
				}
				if cmd.Flags().Changed("span") {
					details.Messages = details.SpanMessages(spanID)
				}
				if shared.GetJSON() {
					return shared.EmitJSON(cmd.OutOrStdout(), "sessions show", details)
				}
				printDetails(cmd, details, raw)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "Print original message content instead of the redacted form")
	cmd.Flags().StringVar(&spanID, "span", "", "Only messages recorded against this span id (empty for session-level messages)")

	return cmd
}

func printDetails(cmd *cobra.Command, d *observability.SessionDetails, raw bool) {
	out := cmd.OutOrStdout()
	field := func(label, value string) {
		fmt.Fprintf(out, "%s %s\n", shared.RenderLabel(label+":"), value)
	}

	fmt.Fprintln(out, shared.Header.Render("Session "+d.ID))
	field("Status", shared.RenderSessionStatus(d.Status))
	if d.Label != "" {
		field("Label", d.Label)
	}
	if d.UserID != "" {
		field("User", d.UserID)
	}
	field("Started", formatTime(d.StartedAt))
	field("Duration", sessionDuration(&d.Session))
	field("Spans", fmt.Sprintf("%d", d.TotalSpans))
	field("Tokens", fmt.Sprintf("%d in / %d out", d.TotalInputTokens, d.TotalOutputTokens))
	field("Cost", fmt.Sprintf("$%.4f", d.TotalCostUSD))

	fmt.Fprintln(out)
	if len(d.Messages) == 0 {
		fmt.Fprintln(out, shared.RenderLabel("No messages recorded."))
		return
	}
	fmt.Fprintln(out, shared.Header.Render("Messages"))
	for _, m := range d.Messages {
		content := m.Content
		if !raw && m.RedactedContent != nil {
			content = *m.RedactedContent
		}
		marker := ""
		if m.IsRedacted {
			marker = shared.RenderLabel(" (redacted)")
		}
		scope := "session"
		if m.SpanID != "" {
			scope = "span " + shortID(m.SpanID)
		}
		fmt.Fprintf(out, "[%s] %s%s %s\n",
			m.CreatedAt.Local().Format("15:04:05"),
			m.Role,
			marker,
			shared.RenderLabel(scope),
		)
		for _, line := range strings.Split(strings.TrimRight(content, "\n"), "\n") {
			fmt.Fprintf(out, "  %s\n", line)
		}
	}
}
