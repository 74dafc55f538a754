// Package classify maps processor errors onto the retry taxonomy: transient
// failures go back to the queue, permanent ones are dead-lettered on first
// sight. Infrastructure errors (the queue store itself failing) are never
// routed through here.
package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

type Class int

const (
	Transient Class = iota
	Permanent
)

func (c Class) String() string {
	if c == Transient {
		return "transient"
	}
	return "permanent"
}

// HTTPError carries an upstream status code so classification can distinguish
// rate limiting and server errors from client errors. Processors return it
// for any non-2xx response.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Message)
}

// transientMarkers are substrings that declare a dependency temporarily
// unavailable. Checked case-insensitively against the full error text.
var transientMarkers = []string{
	"connection reset",
	"connection refused",
	"broken pipe",
	"timeout",
	"timed out",
	"no such host",
	"network is unreachable",
	"database connection",
	"not available",
	"temporarily unavailable",
	"service unavailable",
	"too many requests",
	"rate limit",
}

// Classify applies the ordered rules: network-level failures are transient;
// HTTP 429 and 5xx are transient; declared-unavailable markers are transient;
// everything else is permanent. First match wins.
func Classify(err error) Class {
	if err == nil {
		return Permanent
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Transient
	}

	// Other status codes fall through to the marker scan: a 4xx whose body
	// declares a dependency unavailable is still transient.
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && (httpErr.StatusCode == 429 || httpErr.StatusCode >= 500) {
		return Transient
	}

	s := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(s, marker) {
			return Transient
		}
	}

	return Permanent
}
