package vantage

import (
	"regexp"
	"strings"
)

// Ritual exchange handling: short greetings and courtesies get a canned
// reply sized by the politeness-echo level instead of a model call.

var phaticRe = regexp.MustCompile(`^\s*(hey|hi|hello|yo|sup|how are you|how's it going|hows it going|good morning|good afternoon|good evening|thanks|thank you|sorry)\b`)

var taskyRe = regexp.MustCompile(`\b(build|implement|fix|debug|write|draft|refactor|explain|summarize|analy(ze|sis)|plan|steps?|commands?|code|script|error|trace|stack|logs?)\b`)

// LooksPhatic reports whether the message is a short social opener with no
// task content.
func LooksPhatic(message string) bool {
	m := strings.ToLower(strings.TrimSpace(message))
	if m == "" || len(m) > 80 {
		return false
	}
	return phaticRe.MatchString(m)
}

// LooksTasky reports whether the message carries work-request vocabulary.
func LooksTasky(message string) bool {
	return taskyRe.MatchString(strings.ToLower(message))
}

// RitualReply produces the canned response for a phatic message.
// politenessEcho scales warmth: 0 is all-business, 3+ mirrors the user.
func RitualReply(message string, politenessEcho int) string {
	m := strings.ToLower(strings.TrimSpace(message))

	switch {
	case strings.HasPrefix(m, "thanks"), strings.HasPrefix(m, "thank you"):
		if politenessEcho >= 2 {
			return "You're welcome."
		}
		return "No problem."
	case strings.HasPrefix(m, "sorry"):
		return "No worries."
	}

	var reply string
	switch {
	case politenessEcho <= 0:
		reply = "Ready when you are."
	case politenessEcho == 1:
		reply = "All systems nominal."
	case politenessEcho == 2:
		reply = "Doing well."
	default:
		reply = "I'm doing well."
	}
	return reply + " What's on your mind?"
}
