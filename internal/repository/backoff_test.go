package repository

import (
	"testing"
	"time"
)

func TestBackoffForAttempt(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Minute},
		{2, 5 * time.Minute},
		{3, 30 * time.Minute},
		{4, 30 * time.Minute},  // clamped to the last entry
		{10, 30 * time.Minute}, // still clamped
		{0, 1 * time.Minute},   // defensive lower bound
	}

	for _, c := range cases {
		if got := BackoffForAttempt(c.attempt); got != c.want {
			t.Errorf("BackoffForAttempt(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}
