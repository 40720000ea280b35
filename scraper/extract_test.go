package scraper

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"realestate-scraper/models"
)

func selection(t *testing.T, markup string) *goquery.Selection {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		t.Fatal(err)
	}
	return doc.Find("body").Children().First()
}

func TestParseDocumentRejectsUnusableDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  *Document
	}{
		{"nil", nil},
		{"empty", &Document{URL: "u", Body: []byte("  \n")}},
		{"json", &Document{URL: "u", ContentType: "application/json", Body: []byte(`{"a":1}`)}},
		{"no body content", &Document{URL: "u", ContentType: "text/html", Body: []byte(`<html><head><title>x</title></head><body>  </body></html>`)}},
	}
	for _, tt := range tests {
		_, err := ParseDocument(tt.doc)
		var ef *ExtractionFailed
		if !errors.As(err, &ef) {
			t.Errorf("%s: err = %v; want ExtractionFailed", tt.name, err)
			continue
		}
		if !errors.Is(err, ErrUnparseable) {
			t.Errorf("%s: err = %v; want ErrUnparseable cause", tt.name, err)
		}
	}
}

func TestParseDocumentAcceptsHTML(t *testing.T) {
	page, err := ParseDocument(&Document{URL: "u", ContentType: "text/html; charset=UTF-8", Body: []byte(listingHTML)})
	if err != nil {
		t.Fatal(err)
	}
	if got := Text(page.Find("h1")); got != "Listing" {
		t.Errorf("Text = %q", got)
	}
}

func TestTextLinesSkipsScripts(t *testing.T) {
	sel := selection(t, `<div><p>Ocean   view</p><script>var x = 1;</script><p>Two <b>floors</b></p></div>`)
	want := "Ocean view\nTwo\nfloors"
	if got := TextLines(sel); got != want {
		t.Errorf("TextLines = %q; want %q", got, want)
	}
}

func TestLabelledDetail(t *testing.T) {
	tests := []struct {
		markup    string
		key, want string
	}{
		{`<div><strong>Bedrooms:</strong> 3</div>`, "bedrooms", "3"},
		{`<div><strong>Property Size</strong>: 180 m2</div>`, "property size", "180 m2"},
		{`<div>City: Puerto Escondido</div>`, "city", "Puerto Escondido"},
	}
	for _, tt := range tests {
		key, value := LabelledDetail(selection(t, tt.markup))
		if key != tt.key || value != tt.want {
			t.Errorf("LabelledDetail(%s) = %q, %q; want %q, %q", tt.markup, key, value, tt.key, tt.want)
		}
	}
}

func TestImageSetDeterministicOrder(t *testing.T) {
	markup := `<div>
		<img src="/a.jpg" data-src="/b.jpg">
		<img src="data:image/gif;base64,R0lGOD" data-lazy-src="/c.jpg">
		<img src="https://cdn.test/a.jpg" style="background-image: url('/d.jpg')">
		<img src="/a.jpg">
	</div>`
	sel := selection(t, markup)

	for run := 0; run < 3; run++ {
		set := NewImageSet("https://cdn.test/listing/1")
		sel.Find("img").Each(func(_ int, img *goquery.Selection) { set.AddNode(img) })

		want := []string{
			"https://cdn.test/a.jpg",
			"https://cdn.test/b.jpg",
			"https://cdn.test/c.jpg",
			"https://cdn.test/d.jpg",
		}
		if got := set.URLs(); !reflect.DeepEqual(got, want) {
			t.Fatalf("run %d: URLs = %v; want %v", run, got, want)
		}
	}
}

func TestMatchAmenities(t *testing.T) {
	l := models.NewListing("test", "u")
	MatchAmenities(l, []string{"Swimming Pool", "Close to beach", "Solar water heater"})

	for a, want := range map[models.Amenity]bool{
		models.SwimmingPool: true,
		models.CloseToBeach: true,
		models.Water:        true,
		models.Furnished:    false,
	} {
		if l.Amenities[a] != want {
			t.Errorf("%s = %t; want %t", a, l.Amenities[a], want)
		}
	}

	empty := models.NewListing("test", "u")
	MatchAmenities(empty, nil)
	for a, v := range empty.Amenities {
		if v {
			t.Errorf("%s set without features", a)
		}
	}
}
