package capture

import (
	"context"
	"cssbattle-eval/internal/pixel"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"golang.org/x/xerrors"
)

type PlaywrightConfig struct {
	Timeout time.Duration
	Delay   time.Duration

	Headless                  bool
	ChromeDevtoolsProtocolURL string

	SubresourcePolicy SubresourcePolicy
}

func DefaultPlaywrightConfig() PlaywrightConfig {
	return PlaywrightConfig{
		Timeout:           30 * time.Second,
		Delay:             0,
		Headless:          true,
		SubresourcePolicy: SubresourceBestEffort,
	}
}

// PlaywrightRasterizer renders documents in a shared Chromium instance that is
// started on first use. Every Rasterize call gets its own browser context.
type PlaywrightRasterizer struct {
	config PlaywrightConfig

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
}

func NewPlaywrightRasterizer(ctx context.Context, p PlaywrightConfig) (*PlaywrightRasterizer, error) {
	if p.SubresourcePolicy == "" {
		p.SubresourcePolicy = SubresourceBestEffort
	}
	return &PlaywrightRasterizer{
		config: p,
	}, nil
}

func (r *PlaywrightRasterizer) ensureBrowser() (playwright.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil && r.browser.IsConnected() {
		return r.browser, nil
	}

	if r.pw == nil {
		pw, err := playwright.Run()
		if err != nil {
			return nil, xerrors.Errorf("failed to start playwright: %w", err)
		}
		r.pw = pw
	}

	var browser playwright.Browser
	var err error
	if r.config.ChromeDevtoolsProtocolURL == "" {
		browser, err = r.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(r.config.Headless),
		})
		if err != nil {
			return nil, xerrors.Errorf("failed to launch browser: %w", err)
		}
	} else {
		browser, err = r.pw.Chromium.ConnectOverCDP(r.config.ChromeDevtoolsProtocolURL)
		if err != nil {
			return nil, xerrors.Errorf("failed to connect to browser via CDP at %s: %w", r.config.ChromeDevtoolsProtocolURL, err)
		}
	}
	r.browser = browser

	return browser, nil
}

func (r *PlaywrightRasterizer) Rasterize(ctx context.Context, document Document, width int, height int) (*pixel.Buffer, error) {
	if err := document.validate(); err != nil {
		return nil, err
	}

	browser, err := r.ensureBrowser()
	if err != nil {
		return nil, err
	}

	browserContext, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  width,
			Height: height,
		},
		DeviceScaleFactor: playwright.Float(1),
		IgnoreHttpsErrors: playwright.Bool(true),
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to create browser context: %w", err)
	}
	defer browserContext.Close()

	page, err := browserContext.NewPage()
	if err != nil {
		return nil, xerrors.Errorf("failed to create new page: %w", err)
	}
	defer page.Close()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			page.Close()
		case <-done:
		}
	}()
	defer close(done)

	var failuresMu sync.Mutex
	var failures []string
	page.OnRequestFailed(func(request playwright.Request) {
		if !isSubresource(request.ResourceType()) {
			return
		}
		failuresMu.Lock()
		defer failuresMu.Unlock()
		failures = append(failures, request.URL())
	})
	page.OnResponse(func(response playwright.Response) {
		if response.Status() < 400 || !isSubresource(response.Request().ResourceType()) {
			return
		}
		failuresMu.Lock()
		defer failuresMu.Unlock()
		failures = append(failures, fmt.Sprintf("%s (%d)", response.URL(), response.Status()))
	})

	timeout := playwright.Float(float64(r.config.Timeout.Milliseconds()))
	if document.URL != "" {
		if _, err := page.Goto(document.URL, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateLoad,
			Timeout:   timeout,
		}); err != nil {
			return nil, xerrors.Errorf("failed to navigate to %s: %v: %w", document.URL, err, SurfaceAccessError)
		}
	} else {
		if err := page.SetContent(Shell(document.Markup), playwright.PageSetContentOptions{
			WaitUntil: playwright.WaitUntilStateLoad,
			Timeout:   timeout,
		}); err != nil {
			return nil, xerrors.Errorf("failed to set page content: %v: %w", err, SurfaceAccessError)
		}
	}

	hasBody, err := page.Evaluate(`() => document.body !== null`)
	if err != nil {
		return nil, xerrors.Errorf("failed to inspect document: %v: %w", err, SurfaceAccessError)
	}
	if ok, _ := hasBody.(bool); !ok {
		return nil, xerrors.Errorf("document has no body: %w", SurfaceAccessError)
	}

	if _, err := page.Evaluate(`() => document.fonts ? document.fonts.ready.then(() => true) : true`); err != nil {
		return nil, xerrors.Errorf("failed to wait for fonts: %w", err)
	}

	if r.config.Delay > 0 {
		select {
		case <-time.After(r.config.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	failuresMu.Lock()
	err = r.config.SubresourcePolicy.Check(failures)
	failuresMu.Unlock()
	if err != nil {
		return nil, err
	}

	screenshot, err := page.Screenshot(playwright.PageScreenshotOptions{
		Type: playwright.ScreenshotTypePng,
		Clip: &playwright.Rect{
			X:      0,
			Y:      0,
			Width:  float64(width),
			Height: float64(height),
		},
		OmitBackground: playwright.Bool(false),
		Animations:     playwright.ScreenshotAnimationsDisabled,
		Timeout:        timeout,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, xerrors.Errorf("failed to take screenshot: %w", err)
	}

	return decodeScreenshot(screenshot, width, height)
}

// Close shuts down the browser and the playwright driver.
func (r *PlaywrightRasterizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		if err := r.browser.Close(); err != nil {
			return xerrors.Errorf("failed to close browser: %w", err)
		}
		r.browser = nil
	}
	if r.pw != nil {
		if err := r.pw.Stop(); err != nil {
			return xerrors.Errorf("failed to stop playwright: %w", err)
		}
		r.pw = nil
	}
	return nil
}
