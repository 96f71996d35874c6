// Package softnotfound detects "soft 404" pages: HTTP 200 responses whose
// content says the resource is gone.
//
// Detect is pure. It takes the page text, the URL that was requested, the
// URL the client finally landed on after redirects, and the page title.
// Signals are checked in order and the first hit wins:
//
//  1. body contains a known not-found phrase
//  2. a deep link redirected to a homepage-like path
//  3. body is suspiciously thin (under 500 characters)
//  4. title matches a not-found / removed / 404 pattern
package softnotfound

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// ScoreFlagged is the score of a page judged a soft 404.
	ScoreFlagged = 0.1
	// ScoreClean is the score of a page with no soft-404 signal.
	ScoreClean = 1.0

	thinContentChars = 500
)

// Phrases that mark a not-found page, matched against lowercased content.
var Phrases = []string{
	"page not found",
	"404 error",
	"404 not found",
	"error 404",
	"no longer available",
	"page cannot be found",
	"page could not be found",
	"page does not exist",
	"page doesn't exist",
	"page you requested could not be found",
	"page you are looking for",
	"has been removed",
	"has been discontinued",
	"this program has ended",
	"we couldn't find",
	"we can't find",
	"we could not find",
	"content is no longer",
	"link is broken",
}

var homepagePaths = map[string]bool{
	"":              true,
	"/":             true,
	"/home":         true,
	"/home/":        true,
	"/index":        true,
	"/index.html":   true,
	"/index.htm":    true,
	"/index.php":    true,
	"/default.aspx": true,
	"/default.htm":  true,
}

var titlePattern = regexp.MustCompile(`(?i)(not\s+found|page\s+removed|\bremoved\b|error\s*404|\b404\b)`)

// Result is the detector's verdict.
type Result struct {
	IsSoft404 bool    `json:"is_soft_404"`
	Reason    string  `json:"reason,omitempty"`
	Score     float64 `json:"score"`
}

// Detect classifies a fetched page. finalURL and title may be empty.
func Detect(content, originalURL, finalURL, title string) Result {
	lower := strings.ToLower(content)
	for _, p := range Phrases {
		if strings.Contains(lower, p) {
			return flagged(fmt.Sprintf("content contains %q", p))
		}
	}

	if finalURL != "" && redirectedHome(originalURL, finalURL) {
		return flagged(fmt.Sprintf("redirected to homepage %s", finalURL))
	}

	if n := utf8.RuneCountInString(content); n > 0 && n < thinContentChars {
		return flagged(fmt.Sprintf("thin content (%d chars)", n))
	}

	if title != "" && titlePattern.MatchString(title) {
		return flagged(fmt.Sprintf("title %q looks like an error page", title))
	}

	return Result{Score: ScoreClean}
}

func flagged(reason string) Result {
	return Result{IsSoft404: true, Reason: reason, Score: ScoreFlagged}
}

// redirectedHome reports whether a non-trivial original path landed on a
// homepage-like path.
func redirectedHome(originalURL, finalURL string) bool {
	orig, err := url.Parse(originalURL)
	if err != nil {
		return false
	}
	final, err := url.Parse(finalURL)
	if err != nil {
		return false
	}
	if len(orig.Path) <= 1 || homepagePaths[strings.ToLower(orig.Path)] {
		return false
	}
	return homepagePaths[strings.ToLower(final.Path)]
}
