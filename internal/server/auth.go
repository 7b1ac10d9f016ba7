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

package server

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tombee/tracelight/internal/log"
)

// ProjectHeader names the project a request belongs to.
const ProjectHeader = "X-Project-ID"

// authenticator checks bearer tokens and the project header.
type authenticator struct {
	keys      [][]byte
	projectID string
	logger    *slog.Logger
}

func newAuthenticator(keys []string, projectID string, logger *slog.Logger) *authenticator {
	a := &authenticator{projectID: projectID, logger: logger}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			a.keys = append(a.keys, []byte(k))
		}
	}
	return a
}

// wrap rejects unauthenticated requests. With no keys configured every
// request is accepted.
func (a *authenticator) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.keys) > 0 {
			token, err := extractBearerToken(r)
			if err != nil {
				a.unauthorized(w, r, err.Error())
				return
			}
			if !a.validToken(token) {
				a.unauthorized(w, r, "invalid credentials")
				return
			}
		}

		if a.projectID != "" && r.Header.Get(ProjectHeader) != a.projectID {
			writeError(w, http.StatusForbidden, "forbidden", "unknown project")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// validToken compares token against every key in constant time.
func (a *authenticator) validToken(token string) bool {
	valid := 0
	for _, k := range a.keys {
		valid |= subtle.ConstantTimeCompare([]byte(token), k)
	}
	return valid == 1
}

func (a *authenticator) unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	a.logger.Debug("request rejected",
		"path", r.URL.Path,
		"remote", r.RemoteAddr,
		"reason", message,
		"key", log.SanitizeAPIKey(r.Header.Get("Authorization")),
	)
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, "unauthorized", message)
}

// extractBearerToken returns the token of a "Bearer <token>" Authorization
// header. The scheme is case-insensitive.
func extractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("missing Authorization header")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", errors.New("invalid Authorization header format, expected 'Bearer <token>'")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}
