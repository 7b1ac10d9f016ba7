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
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/tracelight/internal/commands/shared"
	"github.com/tombee/tracelight/pkg/observability"
)

func newGraphCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "graph <session-id>",
		Short: "Print the span tree of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRecorder(cmd, func(ctx context.Context, rec observability.Recorder) error {
				graph, err := rec.GetSessionGraph(ctx, args[0])
				if err != nil {
					return shared.NewQueryError("failed to fetch session graph", err)
				}
				if shared.GetJSON() {
					return shared.EmitJSON(cmd.OutOrStdout(), "sessions graph", graph)
				}
				printGraph(cmd.OutOrStdout(), graph)
				return nil
			})
		},
	}
}

// printGraph writes the span tree depth first. Nodes are in start order, so
// children print in the order they started.
func printGraph(out io.Writer, g *observability.Graph) {
	if len(g.Nodes) == 0 {
		fmt.Fprintln(out, "No spans recorded.")
		return
	}

	children := make(map[string][]string, len(g.Edges))
	hasParent := make(map[string]bool, len(g.Edges))
	for _, e := range g.Edges {
		children[e.From] = append(children[e.From], e.To)
		hasParent[e.To] = true
	}
	byID := make(map[string]*observability.Span, len(g.Nodes))
	for _, n := range g.Nodes {
		byID[n.ID] = n
	}

	var walk func(id string, indent int)
	walk = func(id string, indent int) {
		span, ok := byID[id]
		if !ok {
			return
		}
		fmt.Fprintf(out, "%s%s %s %s %s\n",
			strings.Repeat("  ", indent),
			symbol(span.Status),
			span.Name,
			shared.RenderLabel("["+string(span.Type)+"]"),
			shared.RenderLabel(spanDetail(span)),
		)
		if span.Error != nil {
			fmt.Fprintf(out, "%s  %s\n", strings.Repeat("  ", indent), shared.StatusError.Render(span.Error.Message))
		}
		for _, child := range children[id] {
			walk(child, indent+1)
		}
	}

	for _, n := range g.Nodes {
		if !hasParent[n.ID] {
			walk(n.ID, 0)
		}
	}
}

func symbol(s observability.SpanStatus) string {
	switch s {
	case observability.SpanStatusOK:
		return shared.StatusOK.Render(shared.SymbolOK)
	case observability.SpanStatusError:
		return shared.StatusError.Render(shared.SymbolError)
	default:
		return shared.StatusWarn.Render("…")
	}
}

func spanDetail(s *observability.Span) string {
	parts := []string{formatDurationMS(s.DurationMS)}
	if s.Model != "" {
		parts = append(parts, s.Model)
	}
	if s.Tool != "" {
		parts = append(parts, "tool="+s.Tool)
	}
	if s.Tokens != nil {
		parts = append(parts, fmt.Sprintf("%d/%d tokens", s.Tokens.Input, s.Tokens.Output))
	}
	if s.CostUSD != nil {
		parts = append(parts, fmt.Sprintf("$%.4f", *s.CostUSD))
	}
	return strings.Join(parts, " ")
}
