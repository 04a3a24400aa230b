package util

import (
	"net/http"
	"strconv"
	"time"

	"github.com/liranbd/llmcomms-go/pkg/llmcomms"
)

// StatusToErrorKind maps an HTTP status code to the closest llmcomms.Kind,
// per the error translation table in the provider adapter contract:
// 400/422→validation, 401→authorization, 403→permission_denied,
// 402→quota_exceeded, 404→provider_unknown, 408→timeout,
// 409→provider_unavailable, 429→rate_limited, 5xx→provider_unavailable,
// otherwise→the generic supertype. Total over the HTTP status domain.
func StatusToErrorKind(status int) llmcomms.Kind {
	switch {
	case status == 400 || status == 422:
		return llmcomms.KindValidation
	case status == 401:
		return llmcomms.KindAuthorization
	case status == 403:
		return llmcomms.KindPermissionDenied
	case status == 402:
		return llmcomms.KindQuotaExceeded
	case status == 404:
		return llmcomms.KindProviderUnknown
	case status == 408:
		return llmcomms.KindTimeout
	case status == 409:
		return llmcomms.KindProviderUnavailable
	case status == 429:
		return llmcomms.KindRateLimited
	case status >= 500 && status < 600:
		return llmcomms.KindProviderUnavailable
	default:
		return llmcomms.KindGeneric
	}
}

// ParseRetryAfter reads a Retry-After response header (case-insensitively,
// since adapters populate transport.Response.Headers with whatever casing
// the wire sent) and returns the wait duration it specifies, either as
// delay-seconds or an HTTP-date, per RFC 9110 §10.2.3. Returns false when
// the header is absent or malformed.
func ParseRetryAfter(headers map[string]string) (time.Duration, bool) {
	var raw string
	for k, v := range headers {
		if http.CanonicalHeaderKey(k) == "Retry-After" {
			raw = v
			break
		}
	}
	return parseRetryAfterValue(raw)
}

// ParseRetryAfterHeader is ParseRetryAfter for callers that already hold a
// net/http.Header (e.g. a vendor SDK's raw *http.Response), such as the
// openaisdk adapter.
func ParseRetryAfterHeader(h http.Header) (time.Duration, bool) {
	if h == nil {
		return 0, false
	}
	return parseRetryAfterValue(h.Get("Retry-After"))
}

func parseRetryAfterValue(raw string) (time.Duration, bool) {
	if raw == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if when, err := http.ParseTime(raw); err == nil {
		d := time.Until(when)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
