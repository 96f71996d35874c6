package softnotfound

import (
	"strings"
	"testing"
)

var longBody = strings.Repeat("The Veterans Legal Clinic offers free consultations every Tuesday. ", 12)

func TestDetect_Phrase(t *testing.T) {
	// WHAT: A known not-found phrase flags the page even on the same URL.
	// WHY: Many CMSes return 200 with a "page cannot be found" template.
	r := Detect("Sorry, this page cannot be found", "https://x.org/program", "https://x.org/program", "")
	if !r.IsSoft404 || r.Score != ScoreFlagged {
		t.Fatalf("expected flagged, got %+v", r)
	}
	if !strings.Contains(r.Reason, "page cannot be found") {
		t.Errorf("reason should name the phrase: %q", r.Reason)
	}
}

func TestDetect_Signals(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		orig     string
		final    string
		title    string
		want     bool
		reasonIn string
	}{
		{"clean page", longBody, "https://x.org/program", "https://x.org/program", "Legal Clinic", false, ""},
		{"redirect to root", longBody, "https://x.org/program/42", "https://x.org/", "", true, "homepage"},
		{"redirect to index", longBody, "https://x.org/program", "https://x.org/index.html", "", true, "homepage"},
		{"root to root is fine", longBody, "https://x.org/", "https://x.org/", "", false, ""},
		{"redirect elsewhere", longBody, "https://x.org/a", "https://x.org/b", "", false, ""},
		{"thin content", "Coming soon", "https://x.org/a", "", "", true, "thin"},
		{"empty content not thin", "", "https://x.org/a", "", "", false, ""},
		{"thin counts characters", strings.Repeat("é", 300), "https://x.org/a", "", "", true, "thin content (300 chars)"},
		{"multibyte long page is not thin", strings.Repeat("退役軍人住房援助計畫。", 50), "https://x.org/a", "", "", false, ""},
		{"title 404", longBody, "https://x.org/a", "", "404 - Oops", true, "title"},
		{"title removed", longBody, "https://x.org/a", "", "Page Removed", true, "title"},
		{"title not found", longBody, "https://x.org/a", "", "Not Found", true, "title"},
		{"phrase beats redirect", "404 Not Found", "https://x.org/a", "https://x.org/", "", true, "content contains"},
		{"case insensitive", "PAGE NOT FOUND", "https://x.org/a", "", "", true, "page not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Detect(tt.content, tt.orig, tt.final, tt.title)
			if r.IsSoft404 != tt.want {
				t.Fatalf("IsSoft404 = %v, want %v (%+v)", r.IsSoft404, tt.want, r)
			}
			if tt.want {
				if r.Score != ScoreFlagged {
					t.Errorf("score = %v", r.Score)
				}
				if !strings.Contains(r.Reason, tt.reasonIn) {
					t.Errorf("reason %q should contain %q", r.Reason, tt.reasonIn)
				}
			} else if r.Score != ScoreClean || r.Reason != "" {
				t.Errorf("clean result expected, got %+v", r)
			}
		})
	}
}

func TestParseHTML(t *testing.T) {
	doc := `<html><head><title> Housing Help </title><style>.x{}</style></head>
<body><script>var a = "page not found";</script><h1>Housing</h1><p>Rental   assistance.</p></body></html>`
	p, err := ParseHTML([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	if p.Title != "Housing Help" {
		t.Errorf("title = %q", p.Title)
	}
	if p.Text != "Housing Rental assistance." {
		t.Errorf("text = %q", p.Text)
	}
	if strings.Contains(p.Text, "page not found") {
		t.Error("script content must not leak into text")
	}
}

func TestDetectHTML(t *testing.T) {
	doc := `<html><head><title>Error 404</title></head><body><p>` + longBody + `</p></body></html>`
	r, err := DetectHTML([]byte(doc), "https://x.org/a", "https://x.org/a")
	if err != nil {
		t.Fatal(err)
	}
	if !r.IsSoft404 || !strings.Contains(r.Reason, "title") {
		t.Fatalf("expected title signal, got %+v", r)
	}
}
