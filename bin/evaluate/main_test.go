package main

import (
	"path/filepath"
	"testing"
)

func TestDiffKey(t *testing.T) {
	const locator = "https://example.com/target.png"
	const timestamp = "20240101000000"

	t.Run("SameBasenameDifferentDirectories", func(t *testing.T) {
		a := diffKey(locator, filepath.Join("a", "x.html"), timestamp)
		b := diffKey(locator, filepath.Join("b", "x.html"), timestamp)
		if a == b {
			t.Errorf("diffKey(a/x.html) = diffKey(b/x.html) = %s", a)
		}
	})

	t.Run("SamePathSpelledDifferently", func(t *testing.T) {
		a := diffKey(locator, filepath.Join("a", "x.html"), timestamp)
		b := diffKey(locator, filepath.Join(".", "a", "..", "a", "x.html"), timestamp)
		if a != b {
			t.Errorf("diffKey = %s and %s, want equal", a, b)
		}
	})

	t.Run("DifferentTargets", func(t *testing.T) {
		a := diffKey(locator, "x.html", timestamp)
		b := diffKey("https://example.com/other.png", "x.html", timestamp)
		if a == b {
			t.Errorf("diffKey ignores the target: %s", a)
		}
	})

	t.Run("Layout", func(t *testing.T) {
		key := diffKey(locator, "x.html", timestamp)
		dir, name := filepath.Split(key)
		if name != timestamp+".png" {
			t.Errorf("name = %s, want %s.png", name, timestamp)
		}
		if got, want := len(filepath.Base(filepath.Clean(dir))), 16; got != want {
			t.Errorf("hash length = %d, want %d", got, want)
		}
	})
}
