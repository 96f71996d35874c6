package softnotfound

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Page is the text view of an HTML document that Detect consumes.
type Page struct {
	Title string
	Text  string
}

// ParseHTML extracts the <title> and visible body text of an HTML document.
// Script, style and noscript content is dropped.
func ParseHTML(body []byte) (Page, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return Page{}, err
	}
	var b strings.Builder
	collectText(doc, &b)
	return Page{
		Title: findTitle(doc),
		Text:  strings.Join(strings.Fields(b.String()), " "),
	}, nil
}

// DetectHTML parses body and runs Detect on its text and title.
func DetectHTML(body []byte, originalURL, finalURL string) (Result, error) {
	p, err := ParseHTML(body)
	if err != nil {
		return Result{}, err
	}
	return Detect(p.Text, originalURL, finalURL, p.Title), nil
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		if n.FirstChild != nil {
			return strings.TrimSpace(n.FirstChild.Data)
		}
		return ""
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

func collectText(n *html.Node, b *strings.Builder) {
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript, atom.Head:
			return
		}
	}
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		b.WriteByte(' ')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}
