package retry

import (
	"io"
	"net/http"
	"time"

	"golang.org/x/xerrors"
)

// Transport retries idempotent round trips according to Strategy and On.
// Requests with a body are replayed through GetBody; without it only the
// first attempt is made.
type Transport struct {
	Base     http.RoundTripper
	Strategy Strategy
	On       *On
}

func (t *Transport) RoundTrip(request *http.Request) (*http.Response, error) {
	ctx := request.Context()

	for attempt := uint(0); ; attempt++ {
		if attempt > 0 {
			rewound, err := rewind(request)
			if err != nil {
				return nil, err
			}
			request = rewound
		}

		response, err := t.base().RoundTrip(request)

		var retriable bool
		if err != nil {
			retriable = t.On != nil && t.On.Error(err)
		} else {
			retriable = t.On != nil && t.On.Response(response)
		}
		if !retriable || !replayable(request) {
			return response, err
		}

		delay, exhausted := t.strategy().Backoff(attempt)
		if exhausted {
			return response, err
		}
		if response != nil {
			drain(response)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) strategy() Strategy {
	if t.Strategy != nil {
		return t.Strategy
	}
	return Never()
}

func replayable(request *http.Request) bool {
	return request.Body == nil || request.Body == http.NoBody || request.GetBody != nil
}

func rewind(request *http.Request) (*http.Request, error) {
	if request.Body == nil || request.Body == http.NoBody {
		return request, nil
	}
	body, err := request.GetBody()
	if err != nil {
		return nil, xerrors.Errorf("failed to rewind request body: %w", err)
	}
	clone := request.Clone(request.Context())
	clone.Body = body
	return clone, nil
}

// drain lets the connection be reused before the response is discarded.
func drain(response *http.Response) {
	if response.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, 4<<10))
	_ = response.Body.Close()
}
