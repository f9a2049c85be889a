package initiator

import (
	"testing"
	"time"
)

func TestFailureTransitionBackoffIsLinear(t *testing.T) {
	cases := []struct {
		attempts, maxAttempts int
		status                string
		backoff               time.Duration
	}{
		{1, 5, "queued", 10 * time.Second},
		{2, 5, "queued", 20 * time.Second},
		{4, 5, "queued", 40 * time.Second},
		{5, 5, "failed", 0},
		{7, 5, "failed", 0},
		{1, 1, "failed", 0},
	}
	for _, c := range cases {
		status, backoff := failureTransition(c.attempts, c.maxAttempts)
		if status != c.status || backoff != c.backoff {
			t.Fatalf("failureTransition(%d, %d) = (%q, %v), want (%q, %v)",
				c.attempts, c.maxAttempts, status, backoff, c.status, c.backoff)
		}
	}
}

func TestConfigAllows(t *testing.T) {
	cfg := &Config{AllowedJobTypes: []string{JobHeartbeat, JobFactExtract}}
	if !cfg.Allows(JobHeartbeat) {
		t.Fatal("heartbeat must be allowed")
	}
	if cfg.Allows(JobCardDecay) {
		t.Fatal("card decay is not in the allow list")
	}
	if (&Config{}).Allows(JobHeartbeat) {
		t.Fatal("empty allow list permits nothing")
	}
}
