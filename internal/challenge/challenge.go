package challenge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sort"
	"strings"

	"golang.org/x/xerrors"
)

var (
	NotFoundError     = errors.New("challenge not found")
	MissingImageError = errors.New("challenge has no target image")
)

// Challenge is one scraped battle. ImageURL is where the target was found
// upstream; ImageFile names the local copy without its .png extension.
type Challenge struct {
	ID        string  `json:"challengeId"`
	Name      string  `json:"name"`
	URL       string  `json:"url"`
	Month     int     `json:"month"`
	Year      int     `json:"year"`
	ImageURL  *string `json:"imageUrl"`
	ImageFile *string `json:"imageFile"`
}

func (c Challenge) validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return xerrors.New("challenge id is empty")
	}
	if c.Month < 1 || c.Month > 12 {
		return xerrors.Errorf("challenge %s: month %d out of range", c.ID, c.Month)
	}
	return nil
}

type Getter interface {
	Get(ctx context.Context, locator string) ([]byte, error)
}

// Catalog is an immutable, id-indexed set of challenges.
type Catalog struct {
	challenges map[string]Challenge
	ids        []string
}

// Load reads a dataset through storage. See Parse for accepted shapes.
func Load(ctx context.Context, getter Getter, locator string) (*Catalog, error) {
	data, err := getter.Get(ctx, locator)
	if err != nil {
		return nil, xerrors.Errorf("failed to read challenge dataset %s: %w", locator, err)
	}
	return Parse(data)
}

// Parse accepts either a JSON array of challenges or an object keyed by
// challenge id.
func Parse(data []byte) (*Catalog, error) {
	var list []Challenge

	trimmed := bytes.TrimSpace(data)
	switch {
	case bytes.HasPrefix(trimmed, []byte("[")):
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, xerrors.Errorf("failed to parse challenge list: %w", err)
		}
	case bytes.HasPrefix(trimmed, []byte("{")):
		var keyed map[string]Challenge
		if err := json.Unmarshal(trimmed, &keyed); err != nil {
			return nil, xerrors.Errorf("failed to parse challenge dictionary: %w", err)
		}
		for key, c := range keyed {
			if c.ID == "" {
				c.ID = key
			}
			if c.ID != key {
				return nil, xerrors.Errorf("challenge keyed %q has id %q", key, c.ID)
			}
			list = append(list, c)
		}
	default:
		return nil, xerrors.New("challenge dataset must be a JSON array or object")
	}

	return New(list)
}

func New(challenges []Challenge) (*Catalog, error) {
	catalog := &Catalog{
		challenges: make(map[string]Challenge, len(challenges)),
	}
	for _, c := range challenges {
		if err := c.validate(); err != nil {
			return nil, err
		}
		if _, ok := catalog.challenges[c.ID]; ok {
			return nil, xerrors.Errorf("duplicate challenge id %s", c.ID)
		}
		catalog.challenges[c.ID] = c
		catalog.ids = append(catalog.ids, c.ID)
	}
	sort.Strings(catalog.ids)

	return catalog, nil
}

func (c *Catalog) Len() int {
	return len(c.ids)
}

func (c *Catalog) Get(id string) (Challenge, error) {
	challenge, ok := c.challenges[id]
	if !ok {
		return Challenge{}, xerrors.Errorf("%s: %w", id, NotFoundError)
	}
	return challenge, nil
}

// All returns the challenges ordered by year, month, then id.
func (c *Catalog) All() []Challenge {
	all := make([]Challenge, 0, len(c.ids))
	for _, id := range c.ids {
		all = append(all, c.challenges[id])
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Year != all[j].Year {
			return all[i].Year < all[j].Year
		}
		return all[i].Month < all[j].Month
	})
	return all
}

func (c *Catalog) Random(r *rand.Rand) (Challenge, error) {
	if len(c.ids) == 0 {
		return Challenge{}, xerrors.Errorf("catalog is empty: %w", NotFoundError)
	}
	return c.challenges[c.ids[r.Intn(len(c.ids))]], nil
}

// TargetLocator resolves the reference image of a challenge under imageBase,
// e.g. "public/challenges" or "s3://bucket/challenges".
func (c Challenge) TargetLocator(imageBase string) (string, error) {
	if c.ImageFile == nil || *c.ImageFile == "" {
		return "", xerrors.Errorf("%s: %w", c.ID, MissingImageError)
	}
	return strings.TrimSuffix(imageBase, "/") + "/" + *c.ImageFile + ".png", nil
}
