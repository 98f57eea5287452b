package retry_test

import (
	"context"
	"cssbattle-eval/internal/retry"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(request *http.Request) (*http.Response, error) {
	return f(request)
}

type temporaryError struct{}

func (temporaryError) Error() string   { return "temporary" }
func (temporaryError) Temporary() bool { return true }

func respond(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestTransport(t *testing.T) {
	fast := retry.Exponential(time.Millisecond, 5*time.Millisecond, 3, nil)

	t.Run("SucceedsFirstTime", func(t *testing.T) {
		var calls int32
		client := &http.Client{Transport: &retry.Transport{
			Base: roundTripFunc(func(*http.Request) (*http.Response, error) {
				atomic.AddInt32(&calls, 1)
				return respond(http.StatusOK, "ok"), nil
			}),
			Strategy: fast,
			On:       retry.DefaultOn(),
		}}

		response, err := client.Get("http://example.invalid/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer response.Body.Close()

		if diff := cmp.Diff(int32(1), atomic.LoadInt32(&calls)); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
	})

	t.Run("RetriesTemporaryError", func(t *testing.T) {
		var calls int32
		client := &http.Client{Transport: &retry.Transport{
			Base: roundTripFunc(func(*http.Request) (*http.Response, error) {
				if atomic.AddInt32(&calls, 1) == 1 {
					return nil, temporaryError{}
				}
				return respond(http.StatusOK, "ok"), nil
			}),
			Strategy: fast,
			On:       retry.DefaultOn(),
		}}

		response, err := client.Get("http://example.invalid/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer response.Body.Close()

		if diff := cmp.Diff(int32(2), atomic.LoadInt32(&calls)); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
	})

	t.Run("GivesUpWhenExhausted", func(t *testing.T) {
		var calls int32
		client := &http.Client{Transport: &retry.Transport{
			Base: roundTripFunc(func(*http.Request) (*http.Response, error) {
				atomic.AddInt32(&calls, 1)
				return respond(http.StatusServiceUnavailable, "unavailable"), nil
			}),
			Strategy: fast,
			On:       retry.DefaultOn(),
		}}

		response, err := client.Get("http://example.invalid/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer response.Body.Close()

		if diff := cmp.Diff(http.StatusServiceUnavailable, response.StatusCode); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(int32(4), atomic.LoadInt32(&calls)); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
	})

	t.Run("DoesNotRetryPermanentError", func(t *testing.T) {
		var calls int32
		client := &http.Client{Transport: &retry.Transport{
			Base: roundTripFunc(func(*http.Request) (*http.Response, error) {
				atomic.AddInt32(&calls, 1)
				return nil, errors.New("fake")
			}),
			Strategy: fast,
			On:       retry.DefaultOn(),
		}}

		_, err := client.Get("http://example.invalid/")
		if err == nil {
			t.Fatal("expected error")
		}
		if diff := cmp.Diff(int32(1), atomic.LoadInt32(&calls)); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
	})

	t.Run("StopsOnCancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		client := &http.Client{Transport: &retry.Transport{
			Base: roundTripFunc(func(*http.Request) (*http.Response, error) {
				cancel()
				return respond(http.StatusBadGateway, ""), nil
			}),
			Strategy: retry.Constant(time.Hour, 3),
			On:       retry.DefaultOn(),
		}}

		request, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://example.invalid/", nil)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := client.Do(request); !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	})

	t.Run("ReplaysBody", func(t *testing.T) {
		var calls int32
		var bodies []string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			bodies = append(bodies, string(body))
			if atomic.AddInt32(&calls, 1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := &http.Client{Transport: &retry.Transport{
			Strategy: fast,
			On:       retry.DefaultOn(),
		}}

		response, err := client.Post(server.URL, "text/plain", strings.NewReader("payload"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer response.Body.Close()

		if diff := cmp.Diff([]string{"payload", "payload"}, bodies); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
	})
}
