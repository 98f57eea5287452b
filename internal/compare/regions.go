package compare

import (
	"cssbattle-eval/internal/pixel"
	"runtime"
	"slices"
	"sync"

	"golang.org/x/xerrors"
)

// Rectangle is a bounding box in buffer coordinates.
type Rectangle struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

const (
	minRegionSide        = 2
	regionMergeThreshold = 10
)

// MismatchRegions groups non-matching pixels into bounding rectangles.
// Connected areas (8-neighbourhood) with a side of minRegionSide pixels or
// less are dropped, then overlapping or nearby rectangles are merged.
func (c *ToleranceComparator) MismatchRegions(a *pixel.Buffer, b *pixel.Buffer) ([]Rectangle, error) {
	if !a.SameShape(b) {
		return nil, xerrors.Errorf("%dx%d vs %dx%d: %w", a.Width(), a.Height(), b.Width(), b.Height(), ShapeMismatchError)
	}

	width := a.Width()
	height := a.Height()

	mismatch := make([][]bool, height)
	for i := range mismatch {
		mismatch[i] = make([]bool, width)
	}

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
			for y := startY; y < endY; y++ {
				aRow := a.Row(y)
				bRow := b.Row(y)
				for x := 0; x < width; x++ {
					o := x * 4
					mismatch[y][x] = !(c.within(aRow[o], bRow[o]) &&
						c.within(aRow[o+1], bRow[o+1]) &&
						c.within(aRow[o+2], bRow[o+2]) &&
						c.within(aRow[o+3], bRow[o+3]))
				}
			}
		}(startY, endY)
	}

	wg.Wait()

	return group(mismatch, width, height), nil
}

// DiffRegions recovers the mismatch regions from a diff buffer produced by
// Compare, for callers that no longer hold the compared buffers.
func DiffRegions(diff *pixel.Buffer) []Rectangle {
	width := diff.Width()
	height := diff.Height()

	mismatch := make([][]bool, height)
	for y := range mismatch {
		mismatch[y] = make([]bool, width)
		row := diff.Row(y)
		for x := 0; x < width; x++ {
			mismatch[y][x] = row[x*4+3] == mismatchAlpha
		}
	}

	return group(mismatch, width, height)
}

func group(mismatch [][]bool, width int, height int) []Rectangle {
	visited := make([][]bool, height)
	for i := range visited {
		visited[i] = make([]bool, width)
	}

	var rectangles []Rectangle
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if mismatch[y][x] && !visited[y][x] {
				rect := boundingBox(mismatch, visited, x, y, width, height)
				if rect.Width > minRegionSide && rect.Height > minRegionSide {
					rectangles = append(rectangles, rect)
				}
			}
		}
	}

	return mergeRectangles(rectangles)
}

func boundingBox(mismatch [][]bool, visited [][]bool, startX int, startY int, width int, height int) Rectangle {
	minX, minY := startX, startY
	maxX, maxY := startX, startY

	type point struct {
		x int
		y int
	}
	queue := []point{{startX, startY}}
	visited[startY][startX] = true

	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]

		minX = min(minX, p.x)
		maxX = max(maxX, p.x)
		minY = min(minY, p.y)
		maxY = max(maxY, p.y)

		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 {
					continue
				}

				nx := p.x + dx
				ny := p.y + dy
				if nx >= 0 && nx < width && ny >= 0 && ny < height &&
					mismatch[ny][nx] && !visited[ny][nx] {
					visited[ny][nx] = true
					queue = append(queue, point{nx, ny})
				}
			}
		}
	}

	return Rectangle{
		X:      minX,
		Y:      minY,
		Width:  maxX - minX + 1,
		Height: maxY - minY + 1,
	}
}

// mergeRectangles unions rectangles lying within regionMergeThreshold of each
// other until no pair is left to merge. A union can reach a rectangle that
// was kept apart earlier, so a pass that merged anything is followed by
// another.
func mergeRectangles(rects []Rectangle) []Rectangle {
	if len(rects) <= 1 {
		return rects
	}

	merged := slices.Clone(rects)
	for changed := true; changed; {
		changed = false
		for i := 0; i < len(merged); i++ {
			for j := i + 1; j < len(merged); {
				if overlap(expand(merged[i], regionMergeThreshold), expand(merged[j], regionMergeThreshold)) {
					merged[i] = union(merged[i], merged[j])
					merged = slices.Delete(merged, j, j+1)
					changed = true
					continue
				}
				j++
			}
		}
	}

	return merged
}

func overlap(r1 Rectangle, r2 Rectangle) bool {
	return !(r1.X+r1.Width <= r2.X || r2.X+r2.Width <= r1.X ||
		r1.Y+r1.Height <= r2.Y || r2.Y+r2.Height <= r1.Y)
}

func expand(r Rectangle, by int) Rectangle {
	return Rectangle{
		X:      r.X - by,
		Y:      r.Y - by,
		Width:  r.Width + 2*by,
		Height: r.Height + 2*by,
	}
}

func union(r1 Rectangle, r2 Rectangle) Rectangle {
	minX := min(r1.X, r2.X)
	minY := min(r1.Y, r2.Y)
	maxX := max(r1.X+r1.Width, r2.X+r2.Width)
	maxY := max(r1.Y+r1.Height, r2.Y+r2.Height)

	return Rectangle{
		X:      minX,
		Y:      minY,
		Width:  maxX - minX,
		Height: maxY - minY,
	}
}
