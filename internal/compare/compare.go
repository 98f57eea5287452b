package compare

import (
	"cssbattle-eval/internal/pixel"
	"errors"
)

// DefaultTolerance is the largest per-channel difference two pixels may have
// and still count as matching. It absorbs anti-aliasing noise.
const DefaultTolerance = 5

var ShapeMismatchError = errors.New("buffer shapes differ")

// Result is the outcome of one comparison. Score is a percentage rounded to
// two decimals; Diff is nil unless a diff was requested.
type Result struct {
	Score          float64       `json:"score"`
	MatchingPixels uint64        `json:"matchingPixels"`
	TotalPixels    uint64        `json:"totalPixels"`
	Diff           *pixel.Buffer `json:"-"`
}

// Comparer scores two equally shaped buffers.
type Comparer interface {
	Compare(a *pixel.Buffer, b *pixel.Buffer, generateDiff bool) (*Result, error)
}
