package retry_test

import (
	"cssbattle-eval/internal/retry"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime"
	"syscall"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func mustParseOn(t *testing.T, s string) *retry.On {
	t.Helper()

	o, err := retry.ParseOn(s)
	if err != nil {
		t.Fatalf("ParseOn(%q): %v", s, err)
	}
	return o
}

func TestOnResponse(t *testing.T) {
	tests := []struct {
		name   string
		on     string
		status int
		want   bool
	}{
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			"5xx", 500, true,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			"5xx", 404, false,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			"gateway-error", 503, true,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			"gateway-error", 500, false,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			"retriable-4xx", 409, true,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			"retriable-4xx", 404, false,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			"gateway-error, 429", 429, true,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			"", 503, false,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := mustParseOn(t, tt.on).Response(&http.Response{StatusCode: tt.status})
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestOnError(t *testing.T) {
	tests := []struct {
		name string
		on   string
		err  error
		want bool
	}{
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			"connect-failure", io.EOF, true,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			"connect-failure", &net.DNSError{IsTemporary: true}, true,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			"connect-failure", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, true,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			"connect-failure", errors.New("permanent"), false,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			"5xx", io.ErrUnexpectedEOF, true,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			"gateway-error", io.EOF, false,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := mustParseOn(t, tt.on).Error(tt.err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseOn(t *testing.T) {
	o := mustParseOn(t, "429, connect-failure,gateway-error,409")
	if diff := cmp.Diff("gateway-error,connect-failure,409,429", o.String()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	for _, invalid := range []string{"sometimes", "42", "gateway_error"} {
		if _, err := retry.ParseOn(invalid); err == nil {
			t.Errorf("ParseOn(%q) should fail", invalid)
		}
	}

	if diff := cmp.Diff("gateway-error,connect-failure,retriable-4xx", retry.DefaultOn().String()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}
