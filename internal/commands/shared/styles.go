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


package shared

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/tombee/tracelight/pkg/observability"
)

// CLI style colors using lipgloss
var (
	StatusOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))  // green
	StatusWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // orange
	StatusError = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // red
	Muted       = lipgloss.NewStyle().Foreground(lipgloss.Color("245")) // gray
	Header      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
)

const (
	SymbolOK    = "✓"
	SymbolError = "✗"
)

// RenderOK renders a success message with green checkmark
func RenderOK(msg string) string {
	return StatusOK.Render(SymbolOK) + " " + msg
}

// RenderError renders an error message with red X
func RenderError(msg string) string {
	return StatusError.Render(SymbolError) + " " + msg
}

// RenderLabel renders a dim label (for key: value pairs)
func RenderLabel(label string) string {
	return Muted.Render(label)
}

// RenderSessionStatus colors a session status.
func RenderSessionStatus(s observability.SessionStatus) string {
	switch s {
	case observability.SessionStatusCompleted:
		return StatusOK.Render(string(s))
	case observability.SessionStatusError:
		return StatusError.Render(string(s))
	default:
		return StatusWarn.Render(string(s))
	}
}

// RenderSpanStatus colors a span status.
func RenderSpanStatus(s observability.SpanStatus) string {
	switch s {
	case observability.SpanStatusOK:
		return StatusOK.Render(string(s))
	case observability.SpanStatusError:
		return StatusError.Render(string(s))
	default:
		return StatusWarn.Render(string(s))
	}
}
