package evaluate

import (
	"context"
	"cssbattle-eval/internal/capture"
	"cssbattle-eval/internal/compare"
	"cssbattle-eval/internal/pixel"
	"cssbattle-eval/internal/reference"
	"errors"
	"runtime"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

var TimeoutError = errors.New("capture timed out")

const (
	DefaultWidth   = 400
	DefaultHeight  = 300
	DefaultTimeout = 30 * time.Second
)

type Request struct {
	Document     capture.Document
	TargetURL    string
	Width        int
	Height       int
	GenerateDiff bool
}

func (r Request) shape() (int, int) {
	width, height := r.Width, r.Height
	if width == 0 {
		width = DefaultWidth
	}
	if height == 0 {
		height = DefaultHeight
	}
	return width, height
}

// Evaluator scores rendered documents against reference images. Both
// captures of one evaluation run concurrently and each is bounded by Timeout.
type Evaluator struct {
	Rasterizer capture.Rasterizer
	Reference  reference.Source
	Comparator compare.Comparer
	Timeout    time.Duration
	// Concurrency caps simultaneous rasterizations in EvaluateAll.
	Concurrency int
	Log         logr.Logger
}

func (e *Evaluator) Evaluate(ctx context.Context, request Request) (*compare.Result, error) {
	width, height := request.shape()
	log := e.Log.WithValues("target", request.TargetURL, "width", width, "height", height)
	started := time.Now()

	var rendered, target *pixel.Buffer
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := e.rasterize(gctx, request.Document, width, height)
		if err != nil {
			return err
		}
		rendered = b
		return nil
	})
	g.Go(func() error {
		b, err := e.loadReference(gctx, request.TargetURL, width, height)
		if err != nil {
			return err
		}
		target = b
		return nil
	})
	if err := g.Wait(); err != nil {
		log.V(1).Info("evaluation aborted", "error", err.Error())
		return nil, err
	}

	result, err := e.Comparator.Compare(rendered, target, request.GenerateDiff)
	if err != nil {
		return nil, err
	}

	log.V(1).Info("evaluated", "score", result.Score, "elapsed", time.Since(started).String())
	return result, nil
}

// Outcome is the result of one candidate in EvaluateAll. Exactly one of
// Result and Err is set.
type Outcome struct {
	Result *compare.Result
	Err    error
}

// EvaluateAll scores every candidate against one target. The reference is
// loaded once; a failing candidate does not affect the others. A reference
// failure is reported for every candidate.
func (e *Evaluator) EvaluateAll(ctx context.Context, targetURL string, candidates map[string]capture.Document, width int, height int, generateDiff bool) map[string]Outcome {
	width, height = Request{Width: width, Height: height}.shape()
	outcomes := make(map[string]Outcome, len(candidates))

	target, err := e.loadReference(ctx, targetURL, width, height)
	if err != nil {
		e.Log.Info("reference unavailable", "target", targetURL, "error", err.Error())
		for name := range candidates {
			outcomes[name] = Outcome{Err: err}
		}
		return outcomes
	}

	type named struct {
		name    string
		outcome Outcome
	}
	results := make(chan named, len(candidates))

	var g errgroup.Group
	g.SetLimit(e.concurrency())
	for name, document := range candidates {
		g.Go(func() error {
			rendered, err := e.rasterize(ctx, document, width, height)
			if err != nil {
				results <- named{name, Outcome{Err: err}}
				return nil
			}
			result, err := e.Comparator.Compare(rendered, target, generateDiff)
			if err != nil {
				results <- named{name, Outcome{Err: err}}
				return nil
			}
			results <- named{name, Outcome{Result: result}}
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	for r := range results {
		if r.outcome.Err != nil {
			e.Log.V(1).Info("candidate failed", "candidate", r.name, "error", r.outcome.Err.Error())
		}
		outcomes[r.name] = r.outcome
	}
	return outcomes
}

func (e *Evaluator) rasterize(ctx context.Context, document capture.Document, width int, height int) (*pixel.Buffer, error) {
	return bounded(ctx, e.timeout(), "render", func(ctx context.Context) (*pixel.Buffer, error) {
		return e.Rasterizer.Rasterize(ctx, document, width, height)
	})
}

func (e *Evaluator) loadReference(ctx context.Context, targetURL string, width int, height int) (*pixel.Buffer, error) {
	if targetURL == "" {
		return nil, xerrors.Errorf("no target image: %w", reference.ImageLoadError)
	}
	return bounded(ctx, e.timeout(), "reference load", func(ctx context.Context) (*pixel.Buffer, error) {
		return e.Reference.Load(ctx, targetURL, width, height)
	})
}

func (e *Evaluator) timeout() time.Duration {
	if e.Timeout > 0 {
		return e.Timeout
	}
	return DefaultTimeout
}

func (e *Evaluator) concurrency() int {
	if e.Concurrency > 0 {
		return e.Concurrency
	}
	return runtime.GOMAXPROCS(0)
}

// bounded runs fn with a deadline and returns TimeoutError once the deadline
// passes, whether or not fn has noticed the cancellation.
func bounded(ctx context.Context, timeout time.Duration, what string, fn func(context.Context) (*pixel.Buffer, error)) (*pixel.Buffer, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		buffer *pixel.Buffer
		err    error
	}
	done := make(chan result, 1)
	go func() {
		b, err := fn(ctx)
		done <- result{b, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && errors.Is(r.err, context.DeadlineExceeded) {
			return nil, xerrors.Errorf("%s exceeded %s: %w", what, timeout, TimeoutError)
		}
		return r.buffer, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, xerrors.Errorf("%s exceeded %s: %w", what, timeout, TimeoutError)
		}
		return nil, ctx.Err()
	}
}
