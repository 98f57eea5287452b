package capture

import (
	"context"
	"cssbattle-eval/internal/pixel"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"golang.org/x/xerrors"
)

type ChromedpConfig struct {
	Headless bool
	// RemoteURL attaches to an already running browser's DevTools endpoint
	// instead of spawning one.
	RemoteURL string
	Delay     time.Duration

	SubresourcePolicy SubresourcePolicy
}

func DefaultChromedpConfig() ChromedpConfig {
	return ChromedpConfig{
		Headless:          true,
		Delay:             0,
		SubresourcePolicy: SubresourceBestEffort,
	}
}

// ChromedpRasterizer drives Chromium over the DevTools protocol. The browser
// process lives as long as the allocator; each call opens a fresh tab.
type ChromedpRasterizer struct {
	config          ChromedpConfig
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
}

func NewChromedpRasterizer(ctx context.Context, c ChromedpConfig) (*ChromedpRasterizer, error) {
	if c.SubresourcePolicy == "" {
		c.SubresourcePolicy = SubresourceBestEffort
	}

	r := &ChromedpRasterizer{
		config: c,
	}

	if c.RemoteURL != "" {
		r.allocatorCtx, r.allocatorCancel = chromedp.NewRemoteAllocator(context.WithoutCancel(ctx), c.RemoteURL)
		return r, nil
	}

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if !c.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	opts = append(opts,
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("force-device-scale-factor", "1"),
		chromedp.Flag("disable-gpu", c.Headless),
	)

	r.allocatorCtx, r.allocatorCancel = chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	return r, nil
}

func (r *ChromedpRasterizer) Rasterize(ctx context.Context, document Document, width int, height int) (*pixel.Buffer, error) {
	if err := document.validate(); err != nil {
		return nil, err
	}

	tabCtx, cancel := chromedp.NewContext(r.allocatorCtx)
	defer cancel()

	// Tie the tab to the caller's lifetime.
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-tabCtx.Done():
		}
	}()

	resources := newSubresources()
	chromedp.ListenTarget(tabCtx, resources.observe)

	setup := chromedp.Tasks{
		network.Enable(),
		emulation.SetDeviceMetricsOverride(int64(width), int64(height), 1, false),
		emulation.SetDefaultBackgroundColorOverride().WithColor(&cdp.RGBA{R: 255, G: 255, B: 255, A: 1}),
	}
	if err := chromedp.Run(tabCtx, setup); err != nil {
		return nil, r.contextError(ctx, xerrors.Errorf("failed to initialize tab: %w", err))
	}

	var load chromedp.Tasks
	if document.URL != "" {
		load = chromedp.Tasks{
			chromedp.Navigate(document.URL),
		}
	} else {
		load = chromedp.Tasks{
			chromedp.Navigate("about:blank"),
			chromedp.ActionFunc(func(ctx context.Context) error {
				tree, err := page.GetFrameTree().Do(ctx)
				if err != nil {
					return err
				}
				return page.SetDocumentContent(tree.Frame.ID, Shell(document.Markup)).Do(ctx)
			}),
		}
	}
	if err := chromedp.Run(tabCtx, load); err != nil {
		return nil, r.contextError(ctx, xerrors.Errorf("failed to load document: %v: %w", err, SurfaceAccessError))
	}

	// Navigate returns on the load event but SetDocumentContent returns as
	// soon as the markup is parsed.
	var loaded bool
	if err := chromedp.Run(tabCtx,
		chromedp.Evaluate(documentComplete, &loaded, awaitPromise),
	); err != nil {
		return nil, r.contextError(ctx, xerrors.Errorf("failed to wait for document load: %v: %w", err, SurfaceAccessError))
	}

	var hasBody bool
	if err := chromedp.Run(tabCtx,
		chromedp.Evaluate(`document.body !== null`, &hasBody),
	); err != nil {
		return nil, r.contextError(ctx, xerrors.Errorf("failed to inspect document: %v: %w", err, SurfaceAccessError))
	}
	if !hasBody {
		return nil, xerrors.Errorf("document has no body: %w", SurfaceAccessError)
	}

	var fontsReady bool
	if err := chromedp.Run(tabCtx,
		chromedp.Evaluate(`document.fonts ? document.fonts.ready.then(() => true) : true`, &fontsReady, awaitPromise),
	); err != nil {
		return nil, r.contextError(ctx, xerrors.Errorf("failed to wait for fonts: %w", err))
	}

	if r.config.Delay > 0 {
		select {
		case <-time.After(r.config.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	unfinished, err := resources.settle(ctx, settleTimeout)
	if err != nil {
		return nil, err
	}
	if err := r.config.SubresourcePolicy.Check(append(resources.failed(), unfinished...)); err != nil {
		return nil, err
	}

	var screenshot []byte
	if err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		data, err := page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithClip(&page.Viewport{
				X:      0,
				Y:      0,
				Width:  float64(width),
				Height: float64(height),
				Scale:  1,
			}).
			WithFromSurface(true).
			Do(ctx)
		if err != nil {
			return err
		}
		screenshot = data
		return nil
	})); err != nil {
		return nil, r.contextError(ctx, xerrors.Errorf("failed to take screenshot: %w", err))
	}

	return decodeScreenshot(screenshot, width, height)
}

// contextError prefers the caller's context error so that deadlines are not
// reported as protocol failures.
func (r *ChromedpRasterizer) contextError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// Close terminates the browser process (or detaches from the remote one).
func (r *ChromedpRasterizer) Close() error {
	r.allocatorCancel()
	return nil
}

const documentComplete = `new Promise(resolve => {
	const check = () => document.readyState === "complete" ? resolve(true) : setTimeout(check, 10);
	check();
})`

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}
