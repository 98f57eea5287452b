package capture

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
)

// settleTimeout bounds how long a capture waits for embedded resources that
// are still in flight once the document has loaded. Streaming media never
// finishes loading.
const settleTimeout = 5 * time.Second

// subresources follows the network events of one tab and keeps track of the
// embedded resources that are still loading and of those that failed.
type subresources struct {
	mu       sync.Mutex
	urls     map[network.RequestID]string
	pending  map[network.RequestID]struct{}
	failures []string
	// changed is closed and replaced whenever pending shrinks.
	changed chan struct{}
}

func newSubresources() *subresources {
	return &subresources{
		urls:    make(map[network.RequestID]string),
		pending: make(map[network.RequestID]struct{}),
		changed: make(chan struct{}),
	}
}

// observe is a chromedp.ListenTarget callback.
func (s *subresources) observe(ev interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		if !isSubresource(string(e.Type)) || e.Request == nil {
			return
		}
		s.urls[e.RequestID] = e.Request.URL
		s.pending[e.RequestID] = struct{}{}
	case *network.EventLoadingFinished:
		s.done(e.RequestID)
	case *network.EventLoadingFailed:
		if _, ok := s.urls[e.RequestID]; ok || isSubresource(string(e.Type)) {
			s.failures = append(s.failures, s.label(e.RequestID, e.ErrorText))
		}
		s.done(e.RequestID)
	case *network.EventResponseReceived:
		if e.Response != nil && e.Response.Status >= 400 && isSubresource(string(e.Type)) {
			s.failures = append(s.failures, fmt.Sprintf("%s (%d)", e.Response.URL, e.Response.Status))
		}
	}
}

func (s *subresources) done(id network.RequestID) {
	if _, ok := s.pending[id]; !ok {
		return
	}
	delete(s.pending, id)
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *subresources) label(id network.RequestID, reason string) string {
	if url, ok := s.urls[id]; ok {
		return fmt.Sprintf("%s (%s)", url, reason)
	}
	return fmt.Sprintf("%s (%s)", id, reason)
}

// settle blocks until no tracked resource is in flight or until timeout has
// passed. Resources still loading at that point are returned; an error is
// returned only when ctx itself is done.
func (s *subresources) settle(ctx context.Context, timeout time.Duration) ([]string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		s.mu.Lock()
		n := len(s.pending)
		changed := s.changed
		s.mu.Unlock()

		if n == 0 {
			return nil, nil
		}

		select {
		case <-changed:
		case <-timer.C:
			return s.unfinished(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *subresources) unfinished() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	labels := make([]string, 0, len(s.pending))
	for id := range s.pending {
		labels = append(labels, s.label(id, "still loading"))
	}
	sort.Strings(labels)
	return labels
}

func (s *subresources) failed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.failures...)
}
