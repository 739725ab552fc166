// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package clock

import (
	"testing"
	"time"
)

func TestMockClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := NewMockClock(start)

	if !clk.Now().Equal(start) {
		t.Fatalf("expected %v, got %v", start, clk.Now())
	}

	clk.Advance(1500 * time.Millisecond)
	if got := clk.Now().Sub(start); got != 1500*time.Millisecond {
		t.Errorf("expected 1.5s elapsed, got %v", got)
	}

	later := start.Add(time.Hour)
	clk.Set(later)
	if !clk.Now().Equal(later) {
		t.Errorf("expected %v, got %v", later, clk.Now())
	}
}

func TestDefaultClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := NewMockClock(start)

	SetDefault(clk)
	defer SetDefault(nil)

	if !Now().Equal(start) {
		t.Errorf("package Now() should use the mock clock")
	}
	if Or(nil) != Clock(clk) {
		t.Errorf("Or(nil) should return the default clock")
	}

	SetDefault(nil)
	if _, ok := Default().(Real); !ok {
		t.Errorf("SetDefault(nil) should restore the real clock")
	}
}
