// Package verify decides whether a fetched candidate page is the real website
// of an entity, and scrapes contact details from the accepted page.
package verify

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Page is a parsed candidate page. HTML and Text are lowercased; Text is the
// visible body text with scripts and styles removed and whitespace collapsed.
type Page struct {
	URL     string
	Host    string
	HTML    string
	Text    string
	Compact string
	Links   []Link
}

// Link is an anchor found on the page.
type Link struct {
	Href string
	Text string
}

// ParsePage extracts the text and links of a fetched HTML document. host is
// the resolved host after redirects; when empty it is taken from rawURL.
func ParsePage(rawURL, host string, body []byte) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Page{}, fmt.Errorf("parse html: %w", err)
	}
	if host == "" {
		if u, err := url.Parse(rawURL); err == nil {
			host = u.Hostname()
		}
	}

	var links []Link
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		links = append(links, Link{
			Href: strings.TrimSpace(href),
			Text: collapse(s.Text()),
		})
	})

	doc.Find("script, style, noscript, template").Remove()
	text := strings.ToLower(collapse(doc.Find("body").Text()))

	return Page{
		URL:     rawURL,
		Host:    strings.ToLower(host),
		HTML:    strings.ToLower(string(body)),
		Text:    text,
		Compact: stripSpace(text),
		Links:   links,
	}, nil
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func stripSpace(s string) string {
	return strings.Join(strings.Fields(s), "")
}
