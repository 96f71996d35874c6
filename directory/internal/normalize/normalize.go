// Package normalize validates and cleans connector candidates.
//
// Normalization is side-effect free: no storage, no network. Title,
// description and organization name are required; every other field is
// cleaned on a best-effort basis and malformed values pass through.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"

	"github.com/GGPrompts/vibe4vets-sub003/connector"
)

// ErrValidation is wrapped by every ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError reports a missing or invalid required field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

var htmlTag = regexp.MustCompile(`(?i)<\s*/?\s*(p|br|div|ul|ol|li|a|strong|em|b|i|h[1-6]|span|table)\b[^>]*>`)

// Normalizer turns candidates into Resources. Safe for concurrent use.
type Normalizer struct {
	strict *bluemonday.Policy
	md     *converter.Converter
}

// New returns a Normalizer.
func New() *Normalizer {
	return &Normalizer{
		strict: bluemonday.StrictPolicy(),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Normalize validates c and returns the cleaned resource. meta supplies the
// source tier and name.
func (n *Normalizer) Normalize(c connector.Candidate, meta connector.Metadata) (*Resource, error) {
	r := &Resource{
		Title:       n.text(c.Title),
		Description: n.description(c.Description, c.SourceURL),
		SourceURL:   strings.TrimSpace(c.SourceURL),
		OrgName:     n.text(c.OrgName),
		OrgWebsite:  strings.TrimSpace(c.OrgWebsite),
		Address:     n.text(c.Address),
		City:        n.text(c.City),
		State:       State(c.State),
		ZipCode:     strings.TrimSpace(c.ZipCode),
		Categories:  Set(c.Categories),
		Tags:        Set(c.Tags),
		Phone:       Phone(c.Phone),
		Email:       strings.ToLower(strings.TrimSpace(c.Email)),
		Hours:       n.text(c.Hours),
		Eligibility: n.text(c.Eligibility),
		HowToApply:  n.text(c.HowToApply),
		Cost:        n.text(rawString(c.RawData, "cost")),
		RawData:     c.RawData,
		FetchedAt:   c.FetchedAt,
		SourceTier:  meta.Tier,
		SourceName:  meta.Name,
	}

	switch {
	case r.Title == "":
		return nil, &ValidationError{Field: "title", Reason: "required"}
	case r.Description == "":
		return nil, &ValidationError{Field: "description", Reason: "required"}
	case r.OrgName == "":
		return nil, &ValidationError{Field: "org_name", Reason: "required"}
	}

	r.Scope, r.States = scope(c.Scope, c.States)
	r.ContentHash = ContentHash(r.Title, r.Description, r.OrgName)
	return r, nil
}

// text strips markup, unescapes entities and collapses whitespace.
func (n *Normalizer) text(s string) string {
	if s == "" {
		return ""
	}
	if strings.ContainsRune(s, '<') {
		s = html.UnescapeString(n.strict.Sanitize(s))
	}
	return strings.Join(strings.Fields(s), " ")
}

// description keeps structure: HTML becomes markdown, plain text is trimmed.
func (n *Normalizer) description(s, sourceURL string) string {
	s = strings.TrimSpace(s)
	if s == "" || !htmlTag.MatchString(s) {
		return s
	}
	var md string
	var err error
	if sourceURL != "" {
		md, err = n.md.ConvertString(s, converter.WithDomain(sourceURL))
	} else {
		md, err = n.md.ConvertString(s)
	}
	if err != nil {
		return n.text(s)
	}
	return strings.TrimSpace(md)
}

// ContentHash is the SHA-256 over title, description and organization,
// used to skip unchanged re-fetches.
func ContentHash(title, description, org string) string {
	h := sha256.New()
	h.Write([]byte(title))
	h.Write([]byte{0x1f})
	h.Write([]byte(description))
	h.Write([]byte{0x1f})
	h.Write([]byte(org))
	return hex.EncodeToString(h.Sum(nil))
}

// Phone formats a 10-digit (or 11-digit with leading 1) US number as
// (xxx) xxx-xxxx. Anything else is returned trimmed but unchanged.
func Phone(s string) string {
	s = strings.TrimSpace(s)
	var digits []byte
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			digits = append(digits, s[i])
		}
	}
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	if len(digits) != 10 {
		return s
	}
	return fmt.Sprintf("(%s) %s-%s", digits[:3], digits[3:6], digits[6:])
}

// State returns a 2-letter uppercase code. Full state names are looked up;
// other inputs of length ≥2 are uppercased and cut to two letters; shorter
// input passes through.
func State(s string) string {
	s = strings.TrimSpace(s)
	if code, ok := stateCodes[strings.ToLower(s)]; ok {
		return code
	}
	r := []rune(s)
	if len(r) < 2 {
		return s
	}
	return strings.ToUpper(string(r[:2]))
}

// Set lowercases, trims, drops empties, dedupes and sorts. Categories and
// tags are unordered sets.
func Set(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func scope(s connector.Scope, states []string) (connector.Scope, []string) {
	s = connector.Scope(strings.ToLower(strings.TrimSpace(string(s))))
	if !s.Valid() {
		if len(states) > 0 {
			s = connector.ScopeState
		} else {
			s = connector.ScopeNational
		}
	}
	if s == connector.ScopeNational {
		return s, nil
	}
	seen := make(map[string]bool, len(states))
	codes := make([]string, 0, len(states))
	for _, st := range states {
		code := State(st)
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return s, codes
}

func rawString(raw map[string]any, key string) string {
	if v, ok := raw[key].(string); ok {
		return v
	}
	return ""
}
