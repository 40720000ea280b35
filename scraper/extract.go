package scraper

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"realestate-scraper/models"
	"realestate-scraper/services"
)

// Extractor turns one fetched listing page into a Listing. Missing elements
// leave defaults; only an unusable document is an error.
type Extractor interface {
	Extract(doc *Document) (*models.Listing, error)
}

// LazyImageAttrs are the lazy-load attributes read after the eager src.
var LazyImageAttrs = []string{"data-src", "data-lazy-src", "data-lzl-bg", "data-original"}

// ParseDocument parses an HTML response. Empty bodies, non-HTML content and
// documents without any body content yield ExtractionFailed.
func ParseDocument(doc *Document) (*goquery.Document, error) {
	if doc == nil || len(bytes.TrimSpace(doc.Body)) == 0 {
		url := ""
		if doc != nil {
			url = doc.URL
		}
		return nil, &ExtractionFailed{URL: url, Cause: fmt.Errorf("%w: empty body", ErrUnparseable)}
	}
	if ct := strings.ToLower(doc.ContentType); ct != "" && !strings.Contains(ct, "html") {
		return nil, &ExtractionFailed{URL: doc.URL, Cause: fmt.Errorf("%w: content type %q", ErrUnparseable, doc.ContentType)}
	}

	page, err := goquery.NewDocumentFromReader(bytes.NewReader(doc.Body))
	if err != nil {
		return nil, &ExtractionFailed{URL: doc.URL, Cause: err}
	}
	body := page.Find("body")
	if body.Children().Length() == 0 && strings.TrimSpace(body.Text()) == "" {
		return nil, &ExtractionFailed{URL: doc.URL, Cause: fmt.Errorf("%w: no body content", ErrUnparseable)}
	}
	return page, nil
}

// Text returns the normalised text of the first element of sel.
func Text(sel *goquery.Selection) string {
	return services.NormaliseText(sel.First().Text())
}

// TextLines returns the text nodes under sel one per line, each normalised,
// skipping scripts and styles.
func TextLines(sel *goquery.Selection) string {
	var lines []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style"):
			return
		case n.Type == html.TextNode:
			if t := services.NormaliseText(n.Data); t != "" {
				lines = append(lines, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return strings.Join(lines, "\n")
}

// SplitLabel splits "Bedrooms: 3" into ("bedrooms", "3").
func SplitLabel(text string) (label, value string) {
	label, value, found := strings.Cut(text, ":")
	if !found {
		return strings.ToLower(services.NormaliseText(text)), ""
	}
	return strings.ToLower(services.NormaliseText(label)), services.NormaliseText(value)
}

// LabelledDetail reads a "<strong>Key:</strong> value" row. Rows without a
// strong label fall back to SplitLabel.
func LabelledDetail(row *goquery.Selection) (key, value string) {
	strong := row.Find("strong").First()
	if strong.Length() == 0 {
		return SplitLabel(row.Text())
	}
	label := strong.Text()
	key = strings.ToLower(strings.TrimSuffix(services.NormaliseText(label), ":"))
	value = strings.Replace(row.Text(), label, "", 1)
	value = services.NormaliseText(strings.TrimPrefix(strings.TrimSpace(value), ":"))
	return key, value
}

// ImageSet collects image URLs once each in first-seen order, resolving
// relative paths and skipping inline data URIs.
type ImageSet struct {
	base string
	seen map[string]struct{}
	urls []string
}

// NewImageSet returns an empty set resolving relative URLs against base.
func NewImageSet(base string) *ImageSet {
	return &ImageSet{base: base, seen: make(map[string]struct{})}
}

// Add records raw and reports whether it was new.
func (s *ImageSet) Add(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(strings.ToLower(raw), "data:") {
		return false
	}
	abs, ok := resolveURL(s.base, raw)
	if !ok {
		return false
	}
	if _, dup := s.seen[abs]; dup {
		return false
	}
	s.seen[abs] = struct{}{}
	s.urls = append(s.urls, abs)
	return true
}

// AddNode adds the eager src, then the lazy attributes, then any CSS
// background url of the node.
func (s *ImageSet) AddNode(node *goquery.Selection) {
	s.Add(node.AttrOr("src", ""))
	for _, attr := range LazyImageAttrs {
		s.Add(node.AttrOr(attr, ""))
	}
	s.Add(services.CSSURL(node.AttrOr("style", "")))
}

// URLs returns the collected URLs.
func (s *ImageSet) URLs() []string {
	return append([]string(nil), s.urls...)
}

// Len is the number of distinct URLs.
func (s *ImageSet) Len() int { return len(s.urls) }

// MatchAmenities sets each amenity flag whose phrase appears in the
// lower-cased feature text. Empty text leaves every flag false.
func MatchAmenities(l *models.Listing, features []string) {
	if len(features) == 0 {
		return
	}
	text := strings.ToLower(strings.Join(features, " | "))
	for _, a := range models.Amenities {
		if strings.Contains(text, a.Phrase()) {
			l.Amenities[a] = true
		}
	}
}

// ResolveURL is resolveURL for site packages.
func ResolveURL(base, href string) string {
	u, _ := resolveURL(base, href)
	return u
}
