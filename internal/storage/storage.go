package storage

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"golang.org/x/xerrors"
)

var NotFoundError = errors.New("object not found")

type Storage interface {
	// Put stores data under key and returns a locator Get understands.
	Put(ctx context.Context, key string, data []byte) (string, error)
	// Get reads the object behind a locator returned by Put, or any locator
	// of the same scheme.
	Get(ctx context.Context, locator string) ([]byte, error)
}

// Mux dispatches Get to the backend owning the locator's scheme. Bare paths
// and file:// locators go to File; s3:// locators go to S3.
type Mux struct {
	File Storage
	S3   Storage
}

func (m *Mux) Get(ctx context.Context, locator string) ([]byte, error) {
	backend, err := m.backend(locator)
	if err != nil {
		return nil, err
	}
	return backend.Get(ctx, locator)
}

func (m *Mux) backend(locator string) (Storage, error) {
	switch scheme(locator) {
	case "", "file":
		if m.File != nil {
			return m.File, nil
		}
	case "s3":
		if m.S3 != nil {
			return m.S3, nil
		}
	}
	return nil, xerrors.Errorf("no storage backend for %q", locator)
}

func scheme(locator string) string {
	i := strings.Index(locator, "://")
	if i <= 0 {
		return ""
	}
	return strings.ToLower(locator[:i])
}

// parseS3 splits s3://bucket/key.
func parseS3(locator string) (string, string, error) {
	u, err := url.Parse(locator)
	if err != nil {
		return "", "", xerrors.Errorf("failed to parse %q: %w", locator, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", xerrors.Errorf("not an s3 locator: %q", locator)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", xerrors.Errorf("s3 locator has no key: %q", locator)
	}
	return u.Host, key, nil
}
