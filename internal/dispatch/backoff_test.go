// ABOUTME: Unit tests for the retry backoff schedule.
package dispatch

import (
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	cases := []struct {
		attempts int32
		want     time.Duration
	}{
		{0, 30 * time.Second},
		{1, 60 * time.Second},
		{2, 120 * time.Second},
		{3, 240 * time.Second},
		{6, 1920 * time.Second},
		{7, time.Hour},
		{8, time.Hour},
		{100, time.Hour},
		{-1, 30 * time.Second},
	}
	for _, c := range cases {
		if got := Backoff(c.attempts); got != c.want {
			t.Errorf("Backoff(%d) = %v, want %v", c.attempts, got, c.want)
		}
	}
}

func TestBackoffMonotonic(t *testing.T) {
	prev := Backoff(0)
	for attempts := int32(1); attempts <= 20; attempts++ {
		cur := Backoff(attempts)
		if cur < prev {
			t.Errorf("Backoff(%d) = %v < Backoff(%d) = %v", attempts, cur, attempts-1, prev)
		}
		if cur > time.Hour {
			t.Errorf("Backoff(%d) = %v exceeds the one-hour cap", attempts, cur)
		}
		prev = cur
	}
}
