// Package facts runs the deterministic fact pipeline: chat rows become
// pending sources, sources become entities/claims/evidence, and a scanner
// flags cardinality contradictions.
package facts

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	kvLineRe     = regexp.MustCompile(`^\s*([A-Za-z][A-Za-z0-9 _\-/]{0,64})\s*:\s*(.{1,500})\s*$`)
	nonKeyRunRe  = regexp.MustCompile(`[^a-z0-9]+`)
	underscoreRe = regexp.MustCompile(`_+`)
)

// KVFact is one extracted "Key: Value" line with its evidence span.
type KVFact struct {
	Predicate string
	Value     string
	SpanStart *int
	SpanEnd   *int
	Snippet   string
}

// NormKey canonicalizes a raw key into a predicate segment: lowercase,
// non-alphanumerics to single underscores, capped at 64 chars.
func NormKey(key string) string {
	k := strings.ToLower(strings.TrimSpace(key))
	k = nonKeyRunRe.ReplaceAllString(k, "_")
	k = strings.Trim(underscoreRe.ReplaceAllString(k, "_"), "_")
	if k == "" {
		return "unknown"
	}
	if len(k) > 64 {
		k = k[:64]
	}
	return k
}

// ParseKVFacts extracts up to maxFacts key/value lines with byte offsets
// into the content for evidence spans.
func ParseKVFacts(content string, maxFacts int) []KVFact {
	if content == "" || maxFacts <= 0 {
		return nil
	}
	var facts []KVFact
	offset := 0
	for _, line := range strings.Split(content, "\n") {
		if m := kvLineRe.FindStringSubmatch(line); m != nil {
			fact := KVFact{
				Predicate: "attr." + NormKey(m[1]),
				Value:     strings.TrimSpace(m[2]),
			}
			if start := strings.Index(content[offset:], line); start >= 0 {
				s := offset + start
				e := s + len(line)
				fact.SpanStart = &s
				fact.SpanEnd = &e
			}
			snippet := line
			if len(snippet) > 400 {
				snippet = snippet[:400]
			}
			fact.Snippet = snippet
			facts = append(facts, fact)
			if len(facts) >= maxFacts {
				break
			}
		}
		offset += len(line) + 1
	}
	return facts
}

// SHA256Hex hashes a string for content fingerprints and canonical keys.
func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
