package routes

import (
	"cssbattle-eval/internal/capture"
	"cssbattle-eval/internal/challenge"
	"errors"
	"net/url"
	"slices"
	"strings"

	"golang.org/x/xerrors"
)

// Targets turns request fields into what the evaluator reads: a reference
// image locator and a capture.Document.
//
// Request bodies are untrusted. By default a targetUrl must be http(s) or a
// data: URL, and documents must be inline markup. Locators resolved from the
// challenge catalog are configuration and are not restricted.
type Targets struct {
	Catalog   *challenge.Catalog
	ImageBase string

	// StorageTargets lets targetUrl name file paths, file:// and s3://
	// objects. Only for trusted callers such as the command line.
	StorageTargets bool
	// DocumentHosts lists the hosts a url document may point the browser at.
	// Empty rejects url documents.
	DocumentHosts []string
}

func (t *Targets) Resolve(targetURL string, challengeID string) (string, error) {
	switch {
	case targetURL != "" && challengeID != "":
		return "", xerrors.Errorf("targetUrl and challengeId are mutually exclusive: %w", BadRequestError)
	case targetURL != "":
		if err := t.checkTarget(targetURL); err != nil {
			return "", err
		}
		return targetURL, nil
	case challengeID == "":
		return "", xerrors.Errorf("one of targetUrl and challengeId is required: %w", BadRequestError)
	}

	c, err := t.challenge(challengeID)
	if err != nil {
		return "", err
	}
	locator, err := c.TargetLocator(t.ImageBase)
	if err != nil {
		if errors.Is(err, challenge.MissingImageError) && c.ImageURL != nil && *c.ImageURL != "" {
			return *c.ImageURL, nil
		}
		return "", xerrors.Errorf("%v: %w", err, BadRequestError)
	}
	return locator, nil
}

func (t *Targets) challenge(id string) (challenge.Challenge, error) {
	if t == nil || t.Catalog == nil {
		return challenge.Challenge{}, xerrors.Errorf("no challenge catalog is loaded: %w", BadRequestError)
	}
	c, err := t.Catalog.Get(id)
	if err != nil {
		return challenge.Challenge{}, xerrors.Errorf("%v: %w", err, BadRequestError)
	}
	return c, nil
}

func (t *Targets) checkTarget(targetURL string) error {
	lower := strings.ToLower(targetURL)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "data:") {
		return nil
	}
	if t != nil && t.StorageTargets {
		return nil
	}
	return xerrors.Errorf("targetUrl must be an http(s) or data: URL: %w", BadRequestError)
}

// Document builds the capture.Document for a request: inline markup, or a
// url on one of DocumentHosts.
func (t *Targets) Document(markup string, documentURL string) (capture.Document, error) {
	if markup != "" && documentURL != "" {
		return capture.Document{}, xerrors.Errorf("markup and url are mutually exclusive: %w", BadRequestError)
	}
	if documentURL == "" {
		return capture.Document{Markup: markup}, nil
	}

	if t == nil || len(t.DocumentHosts) == 0 {
		return capture.Document{}, xerrors.Errorf("url documents are not accepted: %w", BadRequestError)
	}
	u, err := url.Parse(documentURL)
	if err != nil {
		return capture.Document{}, xerrors.Errorf("invalid url: %v: %w", err, BadRequestError)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return capture.Document{}, xerrors.Errorf("url must be http(s): %w", BadRequestError)
	}
	if !slices.Contains(t.DocumentHosts, strings.ToLower(u.Hostname())) {
		return capture.Document{}, xerrors.Errorf("url host %q is not allowed: %w", u.Hostname(), BadRequestError)
	}
	return capture.Document{URL: documentURL}, nil
}
