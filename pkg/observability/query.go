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
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Query parameter names shared by the HTTP API and its client.
const (
	ParamUserID = "user_id"
	ParamLabel  = "label"
	ParamFrom   = "from"
	ParamTo     = "to"
	ParamPage   = "page"
	ParamLimit  = "limit"
)

// Values encodes the range as from/to query parameters (RFC 3339).
func (r *TimeRange) Values() url.Values {
	v := url.Values{}
	if r == nil {
		return v
	}
	if r.From != nil {
		v.Set(ParamFrom, r.From.UTC().Format(time.RFC3339Nano))
	}
	if r.To != nil {
		v.Set(ParamTo, r.To.UTC().Format(time.RFC3339Nano))
	}
	return v
}

// Values encodes the filter as query parameters. Zero fields are omitted.
func (f ListFilter) Values() url.Values {
	v := f.TimeRange.Values()
	if f.UserID != "" {
		v.Set(ParamUserID, f.UserID)
	}
	if f.LabelContains != "" {
		v.Set(ParamLabel, f.LabelContains)
	}
	if f.Page > 0 {
		v.Set(ParamPage, strconv.Itoa(f.Page))
	}
	if f.Limit > 0 {
		v.Set(ParamLimit, strconv.Itoa(f.Limit))
	}
	return v
}

// ParseTimeRange decodes from/to parameters. It returns nil when neither
// is present.
func ParseTimeRange(v url.Values) (*TimeRange, error) {
	var tr TimeRange
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{ParamFrom, &tr.From}, {ParamTo, &tr.To}} {
		raw := v.Get(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", p.name, err)
		}
		*p.dst = &t
	}
	if tr.From == nil && tr.To == nil {
		return nil, nil
	}
	return &tr, nil
}

// ParseListFilter decodes a filter from query parameters.
func ParseListFilter(v url.Values) (ListFilter, error) {
	f := ListFilter{
		UserID:        v.Get(ParamUserID),
		LabelContains: v.Get(ParamLabel),
	}
	tr, err := ParseTimeRange(v)
	if err != nil {
		return ListFilter{}, err
	}
	f.TimeRange = tr

	for _, p := range []struct {
		name string
		dst  *int
	}{{ParamPage, &f.Page}, {ParamLimit, &f.Limit}} {
		raw := v.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return ListFilter{}, fmt.Errorf("invalid %s: %q", p.name, raw)
		}
		*p.dst = n
	}
	return f, nil
}
