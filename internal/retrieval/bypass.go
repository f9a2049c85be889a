package retrieval

import (
	"regexp"
	"strings"
)

var identityPhrases = []string{
	"preferred response style",
	"style modes",
	"interaction contract",
	"infra roles",
	"project mission",
	"our project mission",
	"our mission",
	"user preferences",
	"assistant identity",
	"user identity",
	"what is my name",
	"what's my name",
	"who am i",
	"what is your name",
	"what's your name",
	"who are you",
}

var (
	identityStyleRe   = regexp.MustCompile(`what(?:'s| is) my preferred response style`)
	identityMissionRe = regexp.MustCompile(`what(?:'s| is) (our|the) project mission`)
	greetingStartRe   = regexp.MustCompile(`^(hey|hi|hello|yo)\b`)
)

// IsIdentityOrPolicyQuery is the narrow allow-list for skipping retrieval:
// identity and policy facts are already injected deterministically by the
// persona block, so corpus hits would only add noise. Deliberately does not
// catch phrases like "my writing style".
func IsIdentityOrPolicyQuery(message string) bool {
	m := strings.ToLower(strings.TrimSpace(message))
	if m == "" {
		return false
	}
	for _, p := range identityPhrases {
		if strings.Contains(m, p) {
			return true
		}
	}
	if identityStyleRe.MatchString(m) {
		return true
	}
	return identityMissionRe.MatchString(m)
}

var greetingRequestMarkers = []string{
	"give me", "show me", "help me", "explain", "how do", "steps",
	"outline", "bulleted", "write", "generate", "tell me",
}

// IsPureReentryGreeting detects "hi I'm back" style messages with no task in
// them, so the chat path skips memory injection entirely.
func IsPureReentryGreeting(message string) bool {
	msg := strings.ToLower(strings.TrimSpace(message))
	if msg == "" || len(msg) > 40 {
		return false
	}

	switch {
	case greetingStartRe.MatchString(msg):
	case strings.HasPrefix(msg, "i'm back"),
		strings.HasPrefix(msg, "im back"),
		strings.HasPrefix(msg, "back again"):
	default:
		return false
	}

	for _, m := range greetingRequestMarkers {
		if strings.Contains(msg, m) {
			return false
		}
	}
	return true
}
