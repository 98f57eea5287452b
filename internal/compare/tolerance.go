package compare

import (
	"cssbattle-eval/internal/pixel"
	"math"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/xerrors"
)

const (
	matchAlpha    = 100
	mismatchAlpha = 200
)

type ToleranceComparator struct {
	tolerance uint8
}

func NewToleranceComparator(tolerance uint8) *ToleranceComparator {
	return &ToleranceComparator{
		tolerance,
	}
}

func NewDefaultComparator() *ToleranceComparator {
	return NewToleranceComparator(DefaultTolerance)
}

// Compare counts the pixels whose four channels all lie within the tolerance.
// Rows are partitioned across workers; the result does not depend on the
// partitioning.
func (c *ToleranceComparator) Compare(a *pixel.Buffer, b *pixel.Buffer, generateDiff bool) (*Result, error) {
	if !a.SameShape(b) {
		return nil, xerrors.Errorf("%dx%d vs %dx%d: %w", a.Width(), a.Height(), b.Width(), b.Height(), ShapeMismatchError)
	}

	width := a.Width()
	height := a.Height()

	var diff []byte
	if generateDiff {
		diff = make([]byte, width*height*4)
	}

	var matchingPixelCount int64

	// Use GOMAXPROCS instead of runtime.NumCPU() to consider cgroup.
	numWorkers := min(runtime.GOMAXPROCS(0), height)
	rowsPerWorker := height / numWorkers

	var wg sync.WaitGroup
	wg.Add(numWorkers)

	for i := 0; i < numWorkers; i++ {
		startY := i * rowsPerWorker
		endY := startY + rowsPerWorker
		if i == numWorkers-1 {
			endY = height
		}

		go func(startY int, endY int) {
			defer wg.Done()
			c.processRows(a, b, diff, startY, endY, &matchingPixelCount)
		}(startY, endY)
	}

	wg.Wait()

	total := uint64(width * height)
	matching := uint64(matchingPixelCount)

	result := &Result{
		Score:          Score(matching, total),
		MatchingPixels: matching,
		TotalPixels:    total,
	}

	if generateDiff {
		d, err := pixel.New(width, height, diff)
		if err != nil {
			return nil, xerrors.Errorf("failed to build diff buffer: %w", err)
		}
		result.Diff = d
	}

	return result, nil
}

func (c *ToleranceComparator) processRows(a *pixel.Buffer, b *pixel.Buffer, diff []byte, startY int, endY int, matchingCount *int64) {
	var localMatching int64
	rowBytes := a.Width() * 4

	for y := startY; y < endY; y++ {
		aRow := a.Row(y)
		bRow := b.Row(y)
		diffRowStart := y * rowBytes

		for offset := 0; offset < rowBytes; offset += 4 {
			ar := aRow[offset]
			ag := aRow[offset+1]
			ab := aRow[offset+2]
			aa := aRow[offset+3]

			matches := c.within(ar, bRow[offset]) &&
				c.within(ag, bRow[offset+1]) &&
				c.within(ab, bRow[offset+2]) &&
				c.within(aa, bRow[offset+3])

			if matches {
				localMatching++
			}

			if diff == nil {
				continue
			}

			d := diff[diffRowStart+offset : diffRowStart+offset+4]
			if matches {
				d[0] = ar
				d[1] = ag
				d[2] = ab
				d[3] = matchAlpha
			} else {
				d[0] = 255
				d[1] = 0
				d[2] = 0
				d[3] = mismatchAlpha
			}
		}
	}

	atomic.AddInt64(matchingCount, localMatching)
}

func (c *ToleranceComparator) within(l uint8, r uint8) bool {
	if l > r {
		return l-r <= c.tolerance
	}
	return r-l <= c.tolerance
}

// Score converts a match count to a percentage rounded to two decimals,
// half away from zero. total must be positive.
func Score(matching uint64, total uint64) float64 {
	score := float64(matching) / float64(total) * 100
	return math.Round(score*100) / 100
}
