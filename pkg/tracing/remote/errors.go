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

package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	tlerrors "github.com/tombee/tracelight/pkg/errors"
)

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// APIError is a service response that maps to no more specific error type,
// such as an authentication failure.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remote: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// ErrorType implements errors.ErrorClassifier.
func (e *APIError) ErrorType() string { return "api" }

// IsRetryable implements errors.ErrorClassifier.
func (e *APIError) IsRetryable() bool { return e.StatusCode == http.StatusTooManyRequests }

// IsUnauthorized reports whether err is a 401 or 403 from the service.
func IsUnauthorized(err error) bool {
	var e *APIError
	if errors.As(err, &e) {
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	}
	return false
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *errorBody      `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) handleResponse(cl call, resp *http.Response, dest any) error {
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return c.statusError(cl, resp.StatusCode, body)
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", cl.operation(), err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("empty response from %s", cl.operation())
	}
	if err := json.Unmarshal(env.Data, dest); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", cl.operation(), err)
	}
	return nil
}

// statusError maps an HTTP failure onto the shared error taxonomy.
func (c *Client) statusError(cl call, status int, body []byte) error {
	var env envelope
	msg := http.StatusText(status)
	code := ""
	if json.Unmarshal(body, &env) == nil && env.Error != nil {
		code = env.Error.Code
		if env.Error.Message != "" {
			msg = env.Error.Message
		}
	}

	switch {
	case status == http.StatusNotFound:
		return &tlerrors.NotFoundError{Resource: cl.resource, ID: cl.id}
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return &tlerrors.ValidationError{Field: code, Message: msg}
	case status == http.StatusConflict:
		return &tlerrors.ConflictError{Resource: cl.resource, ID: cl.id, Reason: msg}
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return &tlerrors.TimeoutError{Operation: cl.operation(), Duration: c.timeout}
	case status >= 500:
		return &tlerrors.UnreachableError{Endpoint: c.baseURL + cl.path, StatusCode: status}
	default:
		if code == "" {
			code = "http_error"
		}
		return &APIError{StatusCode: status, Code: code, Message: msg}
	}
}

// transportError classifies a failure to get any response. A cancellation
// by the caller is returned as is.
func (c *Client) transportError(ctx context.Context, cl call, err error) error {
	if errors.Is(err, context.Canceled) && ctx.Err() == context.Canceled {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &tlerrors.TimeoutError{Operation: cl.operation(), Duration: c.timeout, Cause: err}
	}
	return &tlerrors.UnreachableError{Endpoint: c.baseURL + cl.path, Cause: err}
}
