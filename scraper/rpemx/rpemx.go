// Package rpemx extracts listings from realestate.puerto-escondido.mx. URLs
// come from the WordPress REST collection of estate_property posts.
package rpemx

import (
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"realestate-scraper/models"
	"realestate-scraper/scraper"
	"realestate-scraper/services"
	"realestate-scraper/utils"
)

// Site is the pipeline name of this target.
const Site = "rpemx"

const (
	selTitle       = "h1.entry-title.entry-prop"
	selPrice       = ".price_area"
	selCategLinks  = ".property_categs a"
	selDetails     = "#accordion_prop_details .listing_detail"
	selCarousel    = "#owl-demo .item"
	selMap         = "#googleMap_shortcode"
	selDescription = ".wpestate_property_description"
	selFeatures    = "#accordion_prop_features .listing_detail"
	selAgentName   = ".agent_details h3 a"
	selAgentPhone  = ".agent_phone_class a"
	selAgentEmail  = ".agent_email_class a"
)

var (
	bathRegexp = regexp.MustCompile(`\d+(?:\.\d+)?`)
	sizeRegexp = regexp.MustCompile(`(\d+(?:,\d+)*(?:\.\d+)?)\s*m`)
)

// NewEnumerator pages the estate_property collection at apiURL.
func NewEnumerator(fetcher scraper.Fetcher, apiURL string, pageSize int, logger *utils.Logger) *scraper.APICursor {
	return scraper.NewAPICursor(fetcher, scraper.APICursorConfig{
		BaseURL:   apiURL,
		PageSize:  pageSize,
		LinkField: "link",
	}, logger)
}

// Extractor reads one rpemx listing page.
type Extractor struct {
	now func() time.Time
}

// NewExtractor returns the rpemx listing extractor.
func NewExtractor() *Extractor {
	return &Extractor{now: time.Now}
}

// Extract reads one rpemx property page.
func (e *Extractor) Extract(doc *scraper.Document) (*models.Listing, error) {
	page, err := scraper.ParseDocument(doc)
	if err != nil {
		return nil, err
	}

	l := models.NewListing(Site, doc.URL)
	l.ScrapeDate = e.now()

	l.Title = scraper.Text(page.Find(selTitle))

	if priceText := scraper.Text(page.Find(selPrice)); priceText != "" {
		l.Price = services.ParsePrice(priceText)
		l.Currency = "USD"
		if strings.Contains(priceText, "MXN") {
			l.Currency = "MXN"
		}
	}

	if categs := page.Find(selCategLinks); categs.Length() >= 2 {
		l.City = services.NormaliseText(categs.Eq(0).Text())
		l.Area = services.NormaliseText(categs.Eq(1).Text())
	}

	page.Find(selDetails).Each(func(_ int, row *goquery.Selection) {
		detail(l, services.NormaliseText(row.Text()))
	})

	set := scraper.NewImageSet(doc.URL)
	page.Find(selCarousel).Each(func(_ int, item *goquery.Selection) {
		// The lazy attribute holds the full-size image; the inline style
		// is only read when it is missing.
		src := strings.TrimSpace(item.AttrOr("data-lzl-bg", ""))
		if src == "" {
			src = services.CSSURL(item.AttrOr("style", ""))
		}
		set.Add(src)
	})
	l.AllImages = set.URLs()
	if len(l.AllImages) > 0 {
		l.MainImage = l.AllImages[0]
	}

	if m := page.Find(selMap).First(); m.Length() > 0 {
		l.Latitude = strings.TrimSpace(m.AttrOr("data-cur_lat", ""))
		l.Longitude = strings.TrimSpace(m.AttrOr("data-cur_long", ""))
	}

	if desc := page.Find(selDescription).First(); desc.Length() > 0 {
		body := desc.Clone()
		body.Find("h4").Remove()
		l.Description = scraper.TextLines(body)
	}

	page.Find(selFeatures).Each(func(_ int, f *goquery.Selection) {
		if f.Find("h4").Length() > 0 {
			return
		}
		if text := services.NormaliseText(f.Text()); text != "" {
			l.Features = append(l.Features, text)
		}
	})
	scraper.MatchAmenities(l, l.Features)

	l.AgentName = scraper.Text(page.Find(selAgentName))
	l.AgentPhone = scraper.Text(page.Find(selAgentPhone))
	l.AgentEmail = scraper.Text(page.Find(selAgentEmail))

	return l, nil
}

func detail(l *models.Listing, text string) {
	switch {
	case strings.Contains(text, "Property Id"):
		if _, id, ok := strings.Cut(text, ":"); ok {
			l.PropertyID = strings.TrimSpace(id)
		}
	case strings.Contains(text, "Bedrooms"):
		l.Bedrooms = services.FirstInt(text)
	case strings.Contains(text, "Bathrooms"):
		l.Bathrooms = bathRegexp.FindString(text)
		if strings.Contains(l.Bathrooms, ".5") {
			l.HalfBaths = "1"
		}
	case strings.Contains(text, "Size") && l.InteriorSpace == "":
		if m := sizeRegexp.FindStringSubmatch(text); len(m) == 2 {
			l.InteriorSpace = strings.ReplaceAll(m[1], ",", "")
		}
	}
}
