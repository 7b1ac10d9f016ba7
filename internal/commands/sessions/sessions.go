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


// Package sessions implements the commands that query recorded sessions.
package sessions

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/tracelight/internal/commands/shared"
	"github.com/tombee/tracelight/pkg/observability"
)

// NewCommand creates the sessions command and its subcommands.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Query recorded sessions",
		Long: `Query the sessions held by the local store, or by a hosted service
when a remote URL is configured.`,
	}

	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newShowCommand())
	cmd.AddCommand(newGraphCommand())
	cmd.AddCommand(newSummaryCommand())

	return cmd
}

// withRecorder opens the configured recorder, runs fn and closes it.
func withRecorder(cmd *cobra.Command, fn func(ctx context.Context, rec observability.Recorder) error) error {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return err
	}
	logger := shared.NewLogger(cfg, cmd.ErrOrStderr())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rec, closeFn, err := shared.OpenRecorder(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeFn(context.WithoutCancel(ctx)); cerr != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), shared.RenderError("failed to close store: "+cerr.Error()))
		}
	}()

	return fn(ctx, rec)
}

// timeFlags are the --since, --from and --to flags shared by list and
// summary.
type timeFlags struct {
	since time.Duration
	from  string
	to    string
}

func (f *timeFlags) register(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&f.since, "since", 0, "Only sessions started within this duration (e.g. 24h)")
	cmd.Flags().StringVar(&f.from, "from", "", "Only sessions started at or after this RFC 3339 time")
	cmd.Flags().StringVar(&f.to, "to", "", "Only sessions started at or before this RFC 3339 time")
}

// timeRange resolves the flags into a range. --since wins over --from.
func (f *timeFlags) timeRange(now time.Time) (*observability.TimeRange, error) {
	if f.since < 0 {
		return nil, shared.NewConfigError("invalid --since", fmt.Errorf("duration must not be negative, got %v", f.since))
	}
	v := url.Values{}
	if f.from != "" {
		v.Set(observability.ParamFrom, f.from)
	}
	if f.to != "" {
		v.Set(observability.ParamTo, f.to)
	}
	tr, err := observability.ParseTimeRange(v)
	if err != nil {
		return nil, shared.NewConfigError("invalid time range", err)
	}
	if f.since > 0 {
		from := now.Add(-f.since)
		if tr == nil {
			tr = &observability.TimeRange{}
		}
		tr.From = &from
	}
	return tr, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatDurationMS(ms *int64) string {
	if ms == nil {
		return "-"
	}
	return (time.Duration(*ms) * time.Millisecond).String()
}

func sessionDuration(s *observability.Session) string {
	if s.EndedAt == nil {
		return "-"
	}
	return s.EndedAt.Sub(s.StartedAt).Round(time.Millisecond).String()
}
