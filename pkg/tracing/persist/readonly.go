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

package persist

import (
	"context"

	"github.com/tombee/tracelight/pkg/observability"
)

// ReadOnly wraps b so that only Load and Close reach it. Mutations, evictions
// and snapshot attachment are dropped, leaving whatever b persisted untouched.
// Query tools use it to read a store owned by a running server.
func ReadOnly(b Backend) Backend {
	return &readOnly{inner: b}
}

type readOnly struct {
	inner Backend
}

func (r *readOnly) Load(ctx context.Context) (*Snapshot, error) {
	return r.inner.Load(ctx)
}

func (r *readOnly) SaveSession(context.Context, *observability.Session) error { return nil }

func (r *readOnly) SaveSpan(context.Context, *observability.Span) error { return nil }

func (r *readOnly) SaveMessages(context.Context, string, []*observability.Message) error {
	return nil
}

func (r *readOnly) DeleteSession(context.Context, string, []string) error { return nil }

// Attach is dropped so an ephemeral backend never snapshots, not even on Close.
func (r *readOnly) Attach(SnapshotSource) {}

func (r *readOnly) Close(ctx context.Context) error {
	return r.inner.Close(ctx)
}
