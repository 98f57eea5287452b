package compare

import (
	"cssbattle-eval/internal/pixel"
	"errors"
	"fmt"
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func createTestBuffer(t testing.TB, width int, height int, r uint8, g uint8, b uint8, a uint8) *pixel.Buffer {
	t.Helper()

	data := make([]byte, width*height*4)
	for i := 0; i < len(data); i += 4 {
		data[i] = r
		data[i+1] = g
		data[i+2] = b
		data[i+3] = a
	}

	buffer, err := pixel.New(width, height, data)
	if err != nil {
		t.Fatalf("failed to create buffer: %v", err)
	}
	return buffer
}

func createBufferFromPixels(t testing.TB, width int, height int, pixels ...[4]uint8) *pixel.Buffer {
	t.Helper()

	data := make([]byte, 0, len(pixels)*4)
	for _, p := range pixels {
		data = append(data, p[0], p[1], p[2], p[3])
	}

	buffer, err := pixel.New(width, height, data)
	if err != nil {
		t.Fatalf("failed to create buffer: %v", err)
	}
	return buffer
}

func TestToleranceComparator_Compare(t *testing.T) {
	c := NewDefaultComparator()

	t.Run("Identity", func(t *testing.T) {
		b := createTestBuffer(t, 40, 30, 12, 34, 56, 255)

		result, err := c.Compare(b, b, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if result.Score != 100.0 {
			t.Errorf("Expected Score to be 100.0, got %f", result.Score)
		}
		if result.MatchingPixels != result.TotalPixels {
			t.Errorf("Expected every pixel to match, got %d/%d", result.MatchingPixels, result.TotalPixels)
		}
		if result.Diff != nil {
			t.Errorf("Expected no diff buffer when not requested")
		}
	})

	t.Run("EndToEndScenario", func(t *testing.T) {
		a := createBufferFromPixels(t, 2, 1, [4]uint8{0, 0, 0, 255}, [4]uint8{255, 255, 255, 255})
		b := createBufferFromPixels(t, 2, 1, [4]uint8{3, 3, 3, 255}, [4]uint8{0, 0, 0, 255})

		result, err := c.Compare(a, b, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		want := &Result{
			Score:          50.0,
			MatchingPixels: 1,
			TotalPixels:    2,
		}
		if diff := cmp.Diff(want, result); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
	})

	t.Run("Rounding", func(t *testing.T) {
		a := createBufferFromPixels(t, 3, 1, [4]uint8{0, 0, 0, 255}, [4]uint8{0, 0, 0, 255}, [4]uint8{0, 0, 0, 255})
		b := createBufferFromPixels(t, 3, 1, [4]uint8{0, 0, 0, 255}, [4]uint8{255, 0, 0, 255}, [4]uint8{255, 0, 0, 255})

		result, err := c.Compare(a, b, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if result.Score != 33.33 {
			t.Errorf("Expected Score to be 33.33, got %v", result.Score)
		}
	})

	t.Run("ShapeMismatch", func(t *testing.T) {
		tests := []struct {
			name string
			a    *pixel.Buffer
			b    *pixel.Buffer
		}{
			{"Width", createTestBuffer(t, 4, 3, 0, 0, 0, 255), createTestBuffer(t, 3, 3, 0, 0, 0, 255)},
			{"Height", createTestBuffer(t, 4, 3, 0, 0, 0, 255), createTestBuffer(t, 4, 4, 0, 0, 0, 255)},
			{"Transposed", createTestBuffer(t, 4, 3, 0, 0, 0, 255), createTestBuffer(t, 3, 4, 0, 0, 0, 255)},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				result, err := c.Compare(tt.a, tt.b, true)
				if !errors.Is(err, ShapeMismatchError) {
					t.Errorf("Expected ShapeMismatchError, got %v", err)
				}
				if result != nil {
					t.Errorf("Expected no result, got %+v", result)
				}
			})
		}
	})

	t.Run("CompleteDifference", func(t *testing.T) {
		white := createTestBuffer(t, 100, 100, 255, 255, 255, 255)
		black := createTestBuffer(t, 100, 100, 0, 0, 0, 255)

		result, err := c.Compare(white, black, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if result.Score != 0.0 || result.MatchingPixels != 0 || result.TotalPixels != 10000 {
			t.Errorf("Expected 0/10000 matching at score 0, got %+v", result)
		}
	})

	t.Run("PartialDifference", func(t *testing.T) {
		a := createTestBuffer(t, 100, 100, 255, 255, 255, 255)
		data := a.Bytes()
		for i := 0; i < 50*100*4; i += 4 {
			data[i], data[i+1], data[i+2] = 0, 0, 0
		}
		b, err := pixel.New(100, 100, data)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		result, err := c.Compare(a, b, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if result.Score != 50.0 {
			t.Errorf("Expected Score to be 50.0, got %f", result.Score)
		}
	})
}

func TestToleranceComparator_Boundary(t *testing.T) {
	type in struct {
		first  [4]uint8
		second [4]uint8
	}

	type want struct {
		matching uint64
	}

	tests := []struct {
		name string
		in   in
		want want
	}{
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in{
				[4]uint8{10, 10, 10, 10},
				[4]uint8{15, 15, 15, 15},
			},
			want{
				1,
			},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in{
				[4]uint8{10, 10, 10, 10},
				[4]uint8{16, 10, 10, 10},
			},
			want{
				0,
			},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in{
				[4]uint8{10, 10, 10, 10},
				[4]uint8{10, 10, 10, 4},
			},
			want{
				0,
			},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in{
				[4]uint8{255, 0, 255, 0},
				[4]uint8{250, 5, 250, 5},
			},
			want{
				1,
			},
		},
	}
	for _, tt := range tests {
		name := tt.name
		in := tt.in
		want := tt.want
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			a := createBufferFromPixels(t, 1, 1, in.first)
			b := createBufferFromPixels(t, 1, 1, in.second)

			result, err := NewDefaultComparator().Compare(a, b, false)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(want.matching, result.MatchingPixels); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}

			// symmetric
			result, err = NewDefaultComparator().Compare(b, a, false)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(want.matching, result.MatchingPixels); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestToleranceComparator_Diff(t *testing.T) {
	c := NewDefaultComparator()

	a := createBufferFromPixels(t, 3, 1,
		[4]uint8{10, 20, 30, 255},
		[4]uint8{0, 0, 0, 255},
		[4]uint8{200, 100, 50, 0},
	)
	b := createBufferFromPixels(t, 3, 1,
		[4]uint8{12, 18, 35, 250},
		[4]uint8{0, 0, 255, 255},
		[4]uint8{200, 100, 50, 0},
	)

	result, err := c.Compare(a, b, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Diff == nil {
		t.Fatalf("Expected a diff buffer")
	}
	if result.Diff.Width() != 3 || result.Diff.Height() != 1 {
		t.Errorf("Expected 3x1 diff, got %dx%d", result.Diff.Width(), result.Diff.Height())
	}

	want := []byte{
		10, 20, 30, 100,
		255, 0, 0, 200,
		200, 100, 50, 100,
	}
	if diff := cmp.Diff(want, result.Diff.Bytes()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestToleranceComparator_DiffCategories(t *testing.T) {
	c := NewDefaultComparator()

	width, height := 37, 23
	aData := make([]byte, width*height*4)
	bData := make([]byte, width*height*4)
	for i := range aData {
		aData[i] = uint8(i * 7)
		bData[i] = uint8(i*7 + (i%11)%8)
	}
	a, err := pixel.New(width, height, aData)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := pixel.New(width, height, bData)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := c.Compare(a, b, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var matching uint64
	for i := 0; i < result.Diff.Len(); i++ {
		r, g, bl, alpha := result.Diff.At(i)
		ar, ag, ab, _ := a.At(i)
		switch {
		case alpha == 100 && r == ar && g == ag && bl == ab:
			matching++
		case r == 255 && g == 0 && bl == 0 && alpha == 200:
		default:
			t.Fatalf("pixel %d has unexpected diff value (%d,%d,%d,%d)", i, r, g, bl, alpha)
		}
	}

	if matching != result.MatchingPixels {
		t.Errorf("Expected %d matching diff pixels, got %d", result.MatchingPixels, matching)
	}
	if result.TotalPixels != uint64(width*height) {
		t.Errorf("Expected TotalPixels %d, got %d", width*height, result.TotalPixels)
	}
}

func TestToleranceComparator_Deterministic(t *testing.T) {
	c := NewDefaultComparator()

	width, height := 400, 300
	aData := make([]byte, width*height*4)
	bData := make([]byte, width*height*4)
	for i := range aData {
		aData[i] = uint8(i % 251)
		bData[i] = uint8((i + i/4099) % 251)
	}
	a, _ := pixel.New(width, height, aData)
	b, _ := pixel.New(width, height, bData)

	first, err := c.Compare(a, b, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := c.Compare(a, b, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if diff := cmp.Diff(first.Diff.Bytes(), again.Diff.Bytes()); diff != "" {
			t.Fatalf("diff buffers differ between runs")
		}
		if first.Score != again.Score || first.MatchingPixels != again.MatchingPixels {
			t.Fatalf("results differ between runs: %+v vs %+v", first, again)
		}
	}
}

func TestToleranceComparator_Monotonic(t *testing.T) {
	c := NewDefaultComparator()

	width, height := 20, 10
	base := createTestBuffer(t, width, height, 40, 80, 120, 255)
	data := base.Bytes()

	previous := 100.0
	for i := 0; i < width*height; i += 7 {
		data[i*4] = 255
		candidate, err := pixel.New(width, height, data)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		result, err := c.Compare(base, candidate, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Score > previous {
			t.Fatalf("score increased from %f to %f after adding a differing pixel", previous, result.Score)
		}
		previous = result.Score
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		matching uint64
		total    uint64
		want     float64
	}{
		{1, 3, 33.33},
		{2, 3, 66.67},
		{1, 2, 50},
		{0, 7, 0},
		{7, 7, 100},
		{119999, 120000, 100},
		{119993, 120000, 99.99},
		{1, 8, 12.5},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d", tt.matching, tt.total), func(t *testing.T) {
			if got := Score(tt.matching, tt.total); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func BenchmarkToleranceComparator_Compare(b *testing.B) {
	c := NewDefaultComparator()
	first := createTestBuffer(b, 400, 300, 255, 255, 255, 255)
	second := createTestBuffer(b, 400, 300, 250, 255, 255, 255)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.Compare(first, second, true)
	}
}
