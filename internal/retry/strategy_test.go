package retry_test

import (
	"cssbattle-eval/internal/retry"
	"fmt"
	"math"
	"runtime"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func identity(n int64) int64 {
	return n
}

func TestStrategyBackoff(t *testing.T) {
	type want struct {
		delay     time.Duration
		exhausted bool
	}

	tests := []struct {
		name     string
		strategy retry.Strategy
		attempt  uint
		want     want
	}{
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			retry.Never(),
			0,
			want{0, true},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			retry.Constant(50*time.Millisecond, 2),
			1,
			want{50 * time.Millisecond, false},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			retry.Constant(50*time.Millisecond, 2),
			2,
			want{0, true},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			retry.Exponential(0, math.MaxInt64, 0, identity),
			0,
			want{0, true},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			retry.Exponential(1*time.Second, math.MaxInt64, 3, identity),
			0,
			want{1 * time.Second, false},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			retry.Exponential(1*time.Second, math.MaxInt64, 3, identity),
			2,
			want{4 * time.Second, false},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			retry.Exponential(1*time.Second, 3*time.Second, 3, identity),
			2,
			want{3 * time.Second, false},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			retry.Exponential(100*time.Second, math.MaxInt64, 64, identity),
			40,
			want{time.Duration(math.MaxInt64), false},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			retry.Exponential(1*time.Second, math.MaxInt64, 64, identity),
			63,
			want{time.Duration(math.MaxInt64), false},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			delay, exhausted := tt.strategy.Backoff(tt.attempt)
			if diff := cmp.Diff(tt.want, want{delay, exhausted}, cmp.AllowUnexported(want{})); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestFullJitter(t *testing.T) {
	if got := retry.FullJitter(0); got != 0 {
		t.Errorf("FullJitter(0) = %d, want 0", got)
	}
	for i := 0; i < 100; i++ {
		if got := retry.FullJitter(10); got < 0 || got >= 10 {
			t.Fatalf("FullJitter(10) = %d, want [0, 10)", got)
		}
	}
}
