// Package ai builds the prompts sent to the language model and parses what
// comes back.
//
// The sanitizers in this file are a defense-in-depth filter for obvious
// prompt-injection phrasing. They are not a security boundary: the model is
// never given tools beyond the sandbox, and the sandbox is what constrains
// generated code.
package ai

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxUserTextLength bounds sanitized user text in runes
	MaxUserTextLength = 500
	// MaxContextLength bounds context text in runes before the truncation marker
	MaxContextLength = 5000
	// FilteredMarker replaces every denied phrase
	FilteredMarker = "[filtered]"
	// TruncationMarker is appended to context text that was cut
	TruncationMarker = "... [truncated for safety]"
)

// InjectionPatterns are removed from user text wherever they appear, ignoring case
var InjectionPatterns = []string{
	"ignore previous instructions",
	"ignore all previous",
	"disregard previous",
	"forget previous",
	"new instructions:",
	"system:",
	"assistant:",
	"you are now",
	"act as",
	"pretend you are",
	"roleplay as",
	"bypass",
	"jailbreak",
}

var injectionRe = compileDenyList(InjectionPatterns)

func compileDenyList(patterns []string) *regexp.Regexp {
	quoted := make([]string, len(patterns))
	for i, p := range patterns {
		quoted[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile(`(?i)(?:` + strings.Join(quoted, "|") + `)`)
}

// SanitizeUserText filters denied phrases, collapses whitespace and bounds the
// length. Filtering repeats until nothing matches, so removing one phrase
// cannot leave a new one behind, and applying the function twice changes nothing.
func SanitizeUserText(text string) string {
	if text == "" {
		return ""
	}
	for {
		next := injectionRe.ReplaceAllString(collapseWhitespace(text), FilteredMarker)
		if next == text {
			break
		}
		text = next
	}
	text = truncateRunes(text, MaxUserTextLength)
	return strings.TrimSpace(text)
}

// ContainsInjection reports whether text contains a denied phrase
func ContainsInjection(text string) bool {
	return injectionRe.MatchString(collapseWhitespace(text))
}

// SanitizeContextText bounds context derived from uploaded data
func SanitizeContextText(text string) string {
	if utf8.RuneCountInString(text) <= MaxContextLength {
		return text
	}
	return truncateRunes(text, MaxContextLength) + TruncationMarker
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
