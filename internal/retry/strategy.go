package retry

import (
	"errors"
	"math/rand"
	"time"

	"golang.org/x/exp/constraints"
)

// Strategy returns how long to wait before retry number attempt (0-based)
// and whether the retry budget is exhausted.
type Strategy interface {
	Backoff(attempt uint) (time.Duration, bool)
}

type never struct{}

// Never disables retries.
func Never() Strategy {
	return never{}
}

func (never) Backoff(uint) (time.Duration, bool) {
	return 0, true
}

type constant struct {
	delay      time.Duration
	maxRetries uint
}

// Constant waits the same delay between up to maxRetries retries.
func Constant(delay time.Duration, maxRetries uint) Strategy {
	return constant{
		delay:      delay,
		maxRetries: maxRetries,
	}
}

func (c constant) Backoff(attempt uint) (time.Duration, bool) {
	if attempt >= c.maxRetries {
		return 0, true
	}
	return c.delay, false
}

// Jitter maps an upper bound to a random delay in [0, n).
type Jitter func(n int64) int64

// FullJitter draws uniformly from the whole window.
func FullJitter(n int64) int64 {
	if n <= 0 {
		return 0
	}
	return rand.Int63n(n)
}

type exponential struct {
	base       time.Duration
	max        time.Duration
	maxRetries uint
	jitter     Jitter
}

// Exponential doubles the window from base up to max. A nil jitter uses
// FullJitter.
func Exponential(base time.Duration, max time.Duration, maxRetries uint, jitter Jitter) Strategy {
	if jitter == nil {
		jitter = FullJitter
	}
	return exponential{
		base:       base,
		max:        max,
		maxRetries: maxRetries,
		jitter:     jitter,
	}
}

func (e exponential) Backoff(attempt uint) (time.Duration, bool) {
	if attempt >= e.maxRetries {
		return 0, true
	}

	window := int64(e.max)
	if attempt < 63 {
		if delay, err := checkedMul(int64(1)<<attempt, int64(e.base)); err == nil && delay < window {
			window = delay
		}
	}
	return time.Duration(e.jitter(window)), false
}

var OverflowError = errors.New("overflow")

func checkedMul[T constraints.Signed](l T, r T) (T, error) {
	if l == 0 || r == 0 {
		return 0, nil
	}
	product := l * r
	if product/r != l {
		return 0, OverflowError
	}
	return product, nil
}
