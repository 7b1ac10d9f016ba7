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

package observability

import (
	"net/url"
	"testing"
	"time"
)

func TestListFilter_QueryRoundTrip(t *testing.T) {
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 3, 2, 12, 30, 0, 500, time.UTC)
	in := ListFilter{
		UserID:        "u-1",
		LabelContains: "Checkout",
		TimeRange:     &TimeRange{From: &from, To: &to},
		Page:          3,
		Limit:         50,
	}

	out, err := ParseListFilter(in.Values())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.UserID != in.UserID || out.LabelContains != in.LabelContains || out.Page != 3 || out.Limit != 50 {
		t.Errorf("unexpected filter %+v", out)
	}
	if out.TimeRange == nil || !out.TimeRange.From.Equal(from) || !out.TimeRange.To.Equal(to) {
		t.Errorf("time range not preserved: %+v", out.TimeRange)
	}
}

func TestListFilter_EmptyValues(t *testing.T) {
	if v := (ListFilter{}).Values(); len(v) != 0 {
		t.Errorf("expected no parameters, got %v", v)
	}
	f, err := ParseListFilter(url.Values{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.TimeRange != nil {
		t.Errorf("expected nil time range, got %+v", f.TimeRange)
	}
}

func TestParseListFilter_Invalid(t *testing.T) {
	tests := []url.Values{
		{ParamPage: {"two"}},
		{ParamLimit: {"-1"}},
		{ParamFrom: {"yesterday"}},
		{ParamTo: {"2025-13-01"}},
	}
	for _, v := range tests {
		if _, err := ParseListFilter(v); err == nil {
			t.Errorf("expected error for %v", v)
		}
	}
}

func TestParseTimeRange_OpenEnded(t *testing.T) {
	tr, err := ParseTimeRange(url.Values{ParamFrom: {"2025-01-01T00:00:00Z"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr == nil || tr.From == nil || tr.To != nil {
		t.Fatalf("expected from-only range, got %+v", tr)
	}
}
