package tracking

import "strings"

// Source is the closed taxonomy of traffic origins.
type Source string

const (
	SourceInstagram Source = "instagram"
	SourceYouTube   Source = "youtube"
	SourceGoogle    Source = "google"
	SourceOther     Source = "other"
)

// sourceRule matches a source by hint substring or by any referrer substring.
type sourceRule struct {
	source    Source
	hint      string
	referrers []string
}

// sourceRules is evaluated in order; the first matching rule wins.
// New hosts belong here, not in callers.
var sourceRules = []sourceRule{
	{source: SourceInstagram, hint: "instagram", referrers: []string{"instagram.com"}},
	{source: SourceYouTube, hint: "youtube", referrers: []string{"youtube.com", "youtu.be"}},
	{source: SourceGoogle, hint: "google", referrers: []string{"google."}},
}

// Classify maps an optional client hint and referrer to a Source.
func Classify(hint, referrer string) Source {
	h := strings.ToLower(hint)
	r := strings.ToLower(referrer)

	for _, rule := range sourceRules {
		if h != "" && strings.Contains(h, rule.hint) {
			return rule.source
		}
		for _, needle := range rule.referrers {
			if r != "" && strings.Contains(r, needle) {
				return rule.source
			}
		}
	}
	return SourceOther
}

// ParseSource decodes a stored or cookie value into a Source.
func ParseSource(value string) (Source, bool) {
	switch Source(strings.ToLower(strings.TrimSpace(value))) {
	case SourceInstagram:
		return SourceInstagram, true
	case SourceYouTube:
		return SourceYouTube, true
	case SourceGoogle:
		return SourceGoogle, true
	case SourceOther:
		return SourceOther, true
	}
	return "", false
}

// AllSources lists every Source in classifier priority order.
func AllSources() []Source {
	return []Source{SourceInstagram, SourceYouTube, SourceGoogle, SourceOther}
}

func (s Source) String() string { return string(s) }
