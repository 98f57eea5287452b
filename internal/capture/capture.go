package capture

import (
	"bytes"
	"context"
	"cssbattle-eval/internal/pixel"
	"errors"
	"fmt"
	"image/color"
	"image/png"
	"strings"

	"golang.org/x/xerrors"
)

var SurfaceAccessError = errors.New("rendered surface is not accessible")

// Document is the rendered surface to capture: either inline Markup, which is
// wrapped in the preview shell, or a URL to navigate to.
type Document struct {
	Markup string
	URL    string
}

// Rasterizer renders a Document into a width×height buffer at scale factor 1
// over an opaque white background.
type Rasterizer interface {
	Rasterize(ctx context.Context, document Document, width int, height int) (*pixel.Buffer, error)
}

const shellTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <style>
    html, body {
      margin: 0;
      padding: 0;
      width: 100%%;
      height: 100%%;
      overflow: hidden;
    }
  </style>
</head>
<body>
%s
</body>
</html>`

// Shell wraps generated markup in the same document the preview frame uses.
func Shell(markup string) string {
	return fmt.Sprintf(shellTemplate, markup)
}

func (d Document) validate() error {
	if d.Markup == "" && d.URL == "" {
		return xerrors.Errorf("document has neither markup nor url: %w", SurfaceAccessError)
	}
	if d.Markup != "" && d.URL != "" {
		return xerrors.New("document must set exactly one of markup and url")
	}
	return nil
}

// SubresourcePolicy decides what happens when an embedded image, stylesheet
// or font cannot be loaded while rendering.
type SubresourcePolicy string

const (
	// SubresourceBestEffort leaves the affected region unpainted and keeps going.
	SubresourceBestEffort SubresourcePolicy = "best-effort"
	// SubresourceStrict aborts the capture with SurfaceAccessError.
	SubresourceStrict SubresourcePolicy = "strict"
)

func ParseSubresourcePolicy(s string) (SubresourcePolicy, error) {
	switch SubresourcePolicy(s) {
	case SubresourceBestEffort, "":
		return SubresourceBestEffort, nil
	case SubresourceStrict:
		return SubresourceStrict, nil
	default:
		return "", xerrors.Errorf("unknown subresource policy: %s", s)
	}
}

// Check returns SurfaceAccessError under the strict policy when any
// sub-resource failed.
func (p SubresourcePolicy) Check(failures []string) error {
	if p != SubresourceStrict || len(failures) == 0 {
		return nil
	}
	return xerrors.Errorf("unreadable sub-resources [%s]: %w", strings.Join(failures, ", "), SurfaceAccessError)
}

// subresourceTypes are the resource types whose failure leaves a hole in the
// rendered surface.
var subresourceTypes = map[string]bool{
	"image":      true,
	"stylesheet": true,
	"font":       true,
	"media":      true,
}

func isSubresource(resourceType string) bool {
	return subresourceTypes[strings.ToLower(resourceType)]
}

// decodeScreenshot turns a PNG screenshot into a width×height buffer, filling
// anything transparent or uncovered with white.
func decodeScreenshot(data []byte, width int, height int) (*pixel.Buffer, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, xerrors.Errorf("failed to decode screenshot: %w", err)
	}

	return pixel.Flatten(img, width, height, color.White)
}
