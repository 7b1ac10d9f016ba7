package httpclient

import (
	"net/url"

	"github.com/tombee/tracelight/pkg/tracing/redact"
)

// paramRedactor decides which query parameters are sensitive. It shares the
// default key list used for message content, plus "key" and "auth" which are
// common query-string spellings.
var paramRedactor = redact.NewRedactor(redact.ModeStandard, append(redact.DefaultKeys(), "key", "auth", "credential"))

// sanitizeURL returns u as a string with sensitive query values replaced.
func sanitizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	q := u.Query()
	for param := range q {
		if paramRedactor.IsSensitiveKey(param) {
			q.Set(param, redact.Placeholder)
		}
	}
	safe := *u
	safe.User = nil
	safe.RawQuery = q.Encode()
	return safe.String()
}
