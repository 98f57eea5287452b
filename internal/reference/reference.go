package reference

import (
	"bytes"
	"context"
	"cssbattle-eval/internal/pixel"
	"cssbattle-eval/internal/retry"
	"encoding/base64"
	"errors"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
	"golang.org/x/xerrors"
)

var ImageLoadError = errors.New("reference image could not be loaded")

const maxImageBytes = 32 << 20

// Source produces the reference buffer for a locator at a given shape.
type Source interface {
	Load(ctx context.Context, locator string, width int, height int) (*pixel.Buffer, error)
}

// Getter reads blobs from non-HTTP locators (file paths, file://, s3://).
type Getter interface {
	Get(ctx context.Context, locator string) ([]byte, error)
}

// Loader fetches, decodes and stretches reference images.
type Loader struct {
	Client  *http.Client
	Storage Getter
}

func (l *Loader) Load(ctx context.Context, locator string, width int, height int) (*pixel.Buffer, error) {
	data, err := l.fetch(ctx, locator)
	if err != nil {
		return nil, err
	}

	img, err := Decode(data)
	if err != nil {
		return nil, err
	}

	return Stretch(img, width, height)
}

func (l *Loader) fetch(ctx context.Context, locator string) ([]byte, error) {
	switch {
	case strings.HasPrefix(locator, "http://"), strings.HasPrefix(locator, "https://"):
		return l.fetchHTTP(ctx, locator)
	case strings.HasPrefix(locator, "data:"):
		return decodeDataURL(locator)
	}

	if l.Storage == nil {
		return nil, xerrors.Errorf("unsupported locator %q: %w", locator, ImageLoadError)
	}
	data, err := l.Storage.Get(ctx, locator)
	if err != nil {
		return nil, xerrors.Errorf("failed to read %s: %v: %w", locator, err, ImageLoadError)
	}
	return data, nil
}

func (l *Loader) fetchHTTP(ctx context.Context, locator string) ([]byte, error) {
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, xerrors.Errorf("failed to build request for %s: %v: %w", locator, err, ImageLoadError)
	}
	request.Header.Set("Accept", "image/png,image/webp,image/*;q=0.8")

	response, err := client.Do(request)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, xerrors.Errorf("failed to fetch %s: %v: %w", locator, err, ImageLoadError)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, xerrors.Errorf("failed to fetch %s: status %d: %w", locator, response.StatusCode, ImageLoadError)
	}

	data, err := io.ReadAll(io.LimitReader(response.Body, maxImageBytes+1))
	if err != nil {
		return nil, xerrors.Errorf("failed to read %s: %v: %w", locator, err, ImageLoadError)
	}
	if len(data) > maxImageBytes {
		return nil, xerrors.Errorf("%s exceeds %d bytes: %w", locator, maxImageBytes, ImageLoadError)
	}
	return data, nil
}

// decodeDataURL handles data:[<mediatype>][;base64],<data>.
func decodeDataURL(locator string) ([]byte, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(locator, "data:"), ",")
	if !ok {
		return nil, xerrors.Errorf("malformed data url: %w", ImageLoadError)
	}

	if strings.HasSuffix(header, ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, xerrors.Errorf("malformed data url payload: %v: %w", err, ImageLoadError)
		}
		return data, nil
	}

	data, err := url.PathUnescape(payload)
	if err != nil {
		return nil, xerrors.Errorf("malformed data url payload: %v: %w", err, ImageLoadError)
	}
	return []byte(data), nil
}

// MaxImageSide bounds each side of a decoded image. Dimensions are checked
// from the header before any pixel memory is allocated.
const MaxImageSide = 4096

// Decode accepts PNG, JPEG, GIF and WebP up to MaxImageSide on each side.
func Decode(data []byte) (image.Image, error) {
	config, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, xerrors.Errorf("failed to read image header: %v: %w", err, ImageLoadError)
	}
	if config.Width > MaxImageSide || config.Height > MaxImageSide {
		return nil, xerrors.Errorf("%s image is %dx%d, larger than %dx%d: %w", format, config.Width, config.Height, MaxImageSide, MaxImageSide, ImageLoadError)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, xerrors.Errorf("failed to decode image: %v: %w", err, ImageLoadError)
	}
	if b := img.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, xerrors.Errorf("empty %s image: %w", format, ImageLoadError)
	}
	return img, nil
}

// Stretch draws img onto a transparent width×height canvas, scaling each axis
// independently. An image that already has the target size is copied as is.
func Stretch(img image.Image, width int, height int) (*pixel.Buffer, error) {
	if width <= 0 || height <= 0 {
		return nil, xerrors.Errorf("%dx%d: %w", width, height, pixel.InvalidShapeError)
	}

	bounds := img.Bounds()
	canvas := image.NewNRGBA(image.Rect(0, 0, width, height))
	if bounds.Dx() == width && bounds.Dy() == height {
		draw.Draw(canvas, canvas.Bounds(), img, bounds.Min, draw.Src)
	} else {
		xdraw.BiLinear.Scale(canvas, canvas.Bounds(), img, bounds, xdraw.Over, nil)
	}

	return pixel.FromImage(canvas)
}

// NewClient returns an HTTP client whose transport retries according to on
// and strategy and is traced with otelhttp.
func NewClient(on *retry.On, strategy retry.Strategy, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: otelhttp.NewTransport(&retry.Transport{
			Base:     http.DefaultTransport,
			Strategy: strategy,
			On:       on,
		}),
		Timeout: timeout,
	}
}
