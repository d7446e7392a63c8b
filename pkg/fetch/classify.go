package fetch

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/schwarzT404/scrapping/pkg/scrape"
)

// classifyStatus maps an HTTP status code to an error kind. 2xx is not an
// error and maps to ErrorKindNone.
func classifyStatus(status int) scrape.ErrorKind {
	switch {
	case status >= 200 && status < 300:
		return scrape.ErrorKindNone
	case status == http.StatusTooManyRequests:
		return scrape.ErrorKindRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return scrape.ErrorKindAuthExpired
	case status >= 500:
		return scrape.ErrorKindTransient
	default:
		return scrape.ErrorKindNonRetriable
	}
}

// classifyNetworkError maps a transport-level failure. Timeouts and
// connection resets are retriable; a URL the transport cannot even speak
// to is not.
func classifyNetworkError(err error) scrape.ErrorKind {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return scrape.ErrorKindTransient
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return scrape.ErrorKindTransient
	}
	if strings.Contains(err.Error(), "unsupported protocol scheme") {
		return scrape.ErrorKindNonRetriable
	}
	return scrape.ErrorKindTransient
}

// retryAfterHint parses a Retry-After header into a delay. Supports both
// delta-seconds and HTTP-date forms; returns 0 when absent or unparsable.
func retryAfterHint(headers http.Header) time.Duration {
	value := headers.Get("Retry-After")
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if wait := time.Until(at); wait > 0 {
			return wait
		}
	}
	return 0
}
