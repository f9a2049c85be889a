package vantage

import (
	"strings"
	"time"
)

// Gap buckets between the current message and the previous one in the same
// thread.
const (
	GapVeryRecent = "very_recent" // < 5 min
	GapRecent     = "recent"      // < 1 h
	GapSameDay    = "same_day"    // < 24 h
	GapDaysGap    = "days_gap"    // < 7 d
	GapLongGap    = "long_gap"
)

// BucketTimeGap classifies the silence before this message. A non-positive
// gap (first message, clock skew) counts as very recent.
func BucketTimeGap(gap time.Duration) string {
	s := gap.Seconds()
	switch {
	case s < 300:
		return GapVeryRecent
	case s < 3600:
		return GapRecent
	case s < 86400:
		return GapSameDay
	case s < 7*86400:
		return GapDaysGap
	default:
		return GapLongGap
	}
}

var reentryTaskMarkers = []string{
	"fix", "build", "implement", "write", "debug", "error", "deploy",
	"configure", "script", "query", "endpoint", "migrate",
}

var reentryConversationalMarkers = []string{
	"hey", "hi", "hello", "how are you", "i'm back", "im back",
	"what's up", "whats up", "been a while",
}

// ShouldAddReentryLine decides whether to prepend a "welcome back" line.
// Only fires for multi-day gaps, and never when the user came back with a
// concrete task: interrupting "fix the deploy" with small talk reads worse
// than saying nothing.
func ShouldAddReentryLine(bucket, message string, tags []string) bool {
	if bucket != GapDaysGap && bucket != GapLongGap {
		return false
	}
	m := strings.ToLower(message)
	for _, marker := range reentryConversationalMarkers {
		if strings.Contains(m, marker) {
			return true
		}
	}
	for _, marker := range reentryTaskMarkers {
		if strings.Contains(m, marker) {
			return false
		}
	}
	for _, t := range tags {
		if t == "intent:instruct" || t == "intent:generate" {
			return false
		}
	}
	return true
}

// BuildReentryLine is the prefix prepended to the reply when a reentry is
// acknowledged.
func BuildReentryLine(bucket string) string {
	switch bucket {
	case GapDaysGap:
		return "It's been a couple days — good to have you back.\n\n"
	case GapLongGap:
		return "It's been a little while since we last talked — what's been going on?\n\n"
	default:
		return ""
	}
}
