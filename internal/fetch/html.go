package fetch

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ParseHTML parses a fetched body into a goquery document.
func ParseHTML(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}

// HasMetaRefresh reports whether the document carries a <meta http-equiv="refresh"> tag.
func HasMetaRefresh(doc *goquery.Document) (bool, string) {
	var content string
	found := false
	doc.Find("meta[http-equiv]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		equiv, _ := s.Attr("http-equiv")
		if strings.EqualFold(strings.TrimSpace(equiv), "refresh") {
			content, _ = s.Attr("content")
			found = true
			return false
		}
		return true
	})
	return found, content
}

// CountPasswordFields counts <input type="password"> elements.
func CountPasswordFields(doc *goquery.Document) int {
	count := 0
	doc.Find("input[type]").Each(func(_ int, s *goquery.Selection) {
		if t, _ := s.Attr("type"); strings.EqualFold(strings.TrimSpace(t), "password") {
			count++
		}
	})
	return count
}

// CountLinks classifies every <a href> against baseURL. A link is internal when,
// after resolving it against the base, its host equals the base host or is empty.
func CountLinks(doc *goquery.Document, baseURL string) (internal, external int, err error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse base URL: %w", err)
	}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		linkURL, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			// Unparseable hrefs cannot point back to the site.
			external++
			return
		}
		resolved := base.ResolveReference(linkURL)
		if resolved.Host == base.Host || resolved.Host == "" {
			internal++
		} else {
			external++
		}
	})
	return internal, external, nil
}
