package capture

import (
	"context"
	"time"

	"golang.org/x/xerrors"
)

type Backend string

const (
	BackendPlaywright Backend = "playwright"
	BackendChromedp   Backend = "chromedp"
)

func ParseBackend(s string) (Backend, error) {
	switch Backend(s) {
	case BackendPlaywright, "":
		return BackendPlaywright, nil
	case BackendChromedp:
		return BackendChromedp, nil
	default:
		return "", xerrors.Errorf("unknown rasterizer backend: %s", s)
	}
}

// Config selects and configures a browser backend.
type Config struct {
	Backend  Backend
	Headless bool
	// RemoteURL attaches to a running browser instead of launching one.
	RemoteURL         string
	Timeout           time.Duration
	Delay             time.Duration
	SubresourcePolicy SubresourcePolicy
}

type ClosableRasterizer interface {
	Rasterizer
	Close() error
}

func NewRasterizer(ctx context.Context, c Config) (ClosableRasterizer, error) {
	switch c.Backend {
	case BackendPlaywright, "":
		p := DefaultPlaywrightConfig()
		p.Headless = c.Headless
		p.ChromeDevtoolsProtocolURL = c.RemoteURL
		p.Delay = c.Delay
		p.SubresourcePolicy = c.SubresourcePolicy
		if c.Timeout > 0 {
			p.Timeout = c.Timeout
		}
		return NewPlaywrightRasterizer(ctx, p)
	case BackendChromedp:
		d := DefaultChromedpConfig()
		d.Headless = c.Headless
		d.RemoteURL = c.RemoteURL
		d.Delay = c.Delay
		d.SubresourcePolicy = c.SubresourcePolicy
		return NewChromedpRasterizer(ctx, d)
	default:
		return nil, xerrors.Errorf("unknown rasterizer backend: %s", c.Backend)
	}
}
