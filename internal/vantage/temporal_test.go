package vantage

import (
	"testing"
	"time"
)

func TestBucketTimeGapBoundaries(t *testing.T) {
	cases := []struct {
		gap  time.Duration
		want string
	}{
		{0, GapVeryRecent},
		{299 * time.Second, GapVeryRecent},
		{300 * time.Second, GapRecent},
		{3599 * time.Second, GapRecent},
		{3600 * time.Second, GapSameDay},
		{86399 * time.Second, GapSameDay},
		{86400 * time.Second, GapDaysGap},
		{7*86400*time.Second - time.Second, GapDaysGap},
		{7 * 86400 * time.Second, GapLongGap},
	}
	for _, tc := range cases {
		if got := BucketTimeGap(tc.gap); got != tc.want {
			t.Fatalf("BucketTimeGap(%v) = %s, want %s", tc.gap, got, tc.want)
		}
	}
}

func TestShouldAddReentryLine(t *testing.T) {
	if !ShouldAddReentryLine(GapDaysGap, "hey, i'm back", nil) {
		t.Fatal("conversational reentry after days should greet")
	}
	if ShouldAddReentryLine(GapDaysGap, "fix the deploy script", nil) {
		t.Fatal("task reentry must not be interrupted with small talk")
	}
	if ShouldAddReentryLine(GapRecent, "hey", nil) {
		t.Fatal("short gaps never greet")
	}
	if ShouldAddReentryLine(GapLongGap, "summarize my week", []string{"intent:instruct"}) {
		t.Fatal("instruct-tagged reentry must not greet")
	}
}

func TestBuildReentryLine(t *testing.T) {
	if BuildReentryLine(GapVeryRecent) != "" {
		t.Fatal("no reentry line for recent buckets")
	}
	if BuildReentryLine(GapDaysGap) == "" || BuildReentryLine(GapLongGap) == "" {
		t.Fatal("multi-day buckets must produce a line")
	}
}
