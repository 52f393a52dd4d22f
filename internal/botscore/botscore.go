// Package botscore flags user agents that look like automated clients.
// The score is informational; nothing in the server acts on it.
package botscore

import "strings"

var defaultPatterns = []string{
	"bot", "crawler", "spider", "scraper", "python-requests", "python-urllib",
	"curl/", "wget/", "httpie/", "go-http", "java/", "ruby", "perl/",
	"scrapy", "mechanize", "selenium", "phantomjs", "headless",
	"postman", "insomnia", "httpclient", "okhttp", "libwww", "node-fetch",
}

const (
	minUserAgentLen = 10
	shortUAScore    = 0.9
	patternScore    = 0.85
)

type Scorer struct {
	patterns []string
}

// New returns a Scorer using the built-in patterns plus extra, matched
// case-insensitively as substrings.
func New(extra ...string) *Scorer {
	patterns := make([]string, 0, len(defaultPatterns)+len(extra))
	patterns = append(patterns, defaultPatterns...)
	for _, p := range extra {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			patterns = append(patterns, p)
		}
	}
	return &Scorer{patterns: patterns}
}

// Score reports whether userAgent looks automated and how confident that
// call is, in [0, 1].
func (s *Scorer) Score(userAgent string) (bool, float64) {
	if len(userAgent) < minUserAgentLen {
		return true, shortUAScore
	}
	ua := strings.ToLower(userAgent)
	for _, p := range s.patterns {
		if strings.Contains(ua, p) {
			return true, patternScore
		}
	}
	return false, 0
}
