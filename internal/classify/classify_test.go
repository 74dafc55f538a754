package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		expect Class
	}{
		{errors.New("connection reset by peer"), Transient},
		{errors.New("dial tcp: i/o timeout"), Transient},
		{errors.New("lookup chatbot.internal: no such host"), Transient},
		{errors.New("database connection lost"), Transient},
		{errors.New("reply service not available"), Transient},
		{errors.New("429 Too Many Requests"), Transient},
		{&HTTPError{StatusCode: 429}, Transient},
		{&HTTPError{StatusCode: 500}, Transient},
		{&HTTPError{StatusCode: 503, Message: "maintenance"}, Transient},
		{&HTTPError{StatusCode: 400, Message: "malformed payload"}, Permanent},
		{&HTTPError{StatusCode: 404, Message: "service temporarily not available"}, Transient},
		{&HTTPError{StatusCode: 409, Message: "too many requests in window"}, Transient},
		{&HTTPError{StatusCode: 401}, Permanent},
		{&HTTPError{StatusCode: 403}, Permanent},
		{&HTTPError{StatusCode: 404}, Permanent},
		{errors.New("invalid recipient id"), Permanent},
		{errors.New("unsupported attachment type"), Permanent},
		{context.DeadlineExceeded, Transient},
		{nil, Permanent},
	}

	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.expect {
			t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.expect)
		}
	}
}

func TestClassifyWrappedHTTPError(t *testing.T) {
	err := fmt.Errorf("send reply: %w", &HTTPError{StatusCode: 502, Message: "bad gateway"})
	if got := Classify(err); got != Transient {
		t.Errorf("wrapped 502 = %v, want Transient", got)
	}
	err = fmt.Errorf("send reply: %w", &HTTPError{StatusCode: 422})
	if got := Classify(err); got != Permanent {
		t.Errorf("wrapped 422 = %v, want Permanent", got)
	}
}

func TestClassifyNetError(t *testing.T) {
	var err error = &net.OpError{Op: "dial", Net: "tcp", Err: &timeoutErr{}}
	if got := Classify(err); got != Transient {
		t.Errorf("net.OpError = %v, want Transient", got)
	}
}

type timeoutErr struct{}

func (*timeoutErr) Error() string   { return "i/o timeout" }
func (*timeoutErr) Timeout() bool   { return true }
func (*timeoutErr) Temporary() bool { return true }
