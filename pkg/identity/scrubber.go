package identity

import (
	"log/slog"
	"regexp"
)

// compiledPattern holds a pre-compiled regex pattern with its replacement.
type compiledPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// Scrubber redacts stray identity signals (emails, bare IPv4 addresses,
// bearer-style tokens) from free-text fields such as PendingAdChange.Reason
// before they reach change_history, so an operator's audit trail never
// accumulates PII that was never supposed to be there in the first place.
type Scrubber struct {
	patterns []*compiledPattern
}

// NewScrubber compiles the built-in redaction patterns. Invalid patterns
// are logged and skipped rather than failing startup.
func NewScrubber() *Scrubber {
	s := &Scrubber{}
	for _, p := range builtinPatterns() {
		compiled, err := regexp.Compile(p.pattern)
		if err != nil {
			slog.Error("failed to compile identity scrub pattern, skipping",
				"pattern", p.name, "error", err)
			continue
		}
		s.patterns = append(s.patterns, &compiledPattern{
			name:        p.name,
			regex:       compiled,
			replacement: p.replacement,
		})
	}
	return s
}

type patternSpec struct {
	name        string
	pattern     string
	replacement string
}

func builtinPatterns() []patternSpec {
	return []patternSpec{
		{"email", `[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`, "[REDACTED-EMAIL]"},
		{"ipv4", `\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`, "[REDACTED-IP]"},
		{"bearer_token", `(?i)bearer\s+[a-zA-Z0-9._\-]+`, "[REDACTED-TOKEN]"},
	}
}

// Scrub applies every compiled pattern to text and returns the redacted
// result. Fails open: if a pattern panics mid-match this would propagate,
// but ReplaceAllString on a compiled regexp cannot fail at runtime.
func (s *Scrubber) Scrub(text string) string {
	if text == "" {
		return text
	}
	scrubbed := text
	for _, p := range s.patterns {
		scrubbed = p.regex.ReplaceAllString(scrubbed, p.replacement)
	}
	return scrubbed
}
