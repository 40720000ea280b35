// Package bayside extracts listings from baysiderealestate.com, a WP Estate
// theme site paginated through "next" links.
package bayside

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
const Site = "bayside"

var idRegexp = regexp.MustCompile(`ID\s*:\s*(\d+)`)

// NewEnumerator walks the city index starting at startURL.
func NewEnumerator(fetcher scraper.Fetcher, startURL string, logger *utils.Logger) *scraper.LinkWalk {
	return scraper.NewLinkWalk(fetcher, scraper.LinkWalkConfig{
		StartURL:     startURL,
		ItemSelector: selCard,
		LinkSelector: selCardLink,
		NextSelector: selNextPage,
	}, logger)
}

// Extractor reads one bayside listing page.
type Extractor struct {
	now func() time.Time
}

// NewExtractor returns the bayside listing extractor.
func NewExtractor() *Extractor {
	return &Extractor{now: time.Now}
}

// Extract reads one bayside listing page. Missing required fields get
// their defaults; only an unparseable page fails.
func (e *Extractor) Extract(doc *scraper.Document) (*models.Listing, error) {
	page, err := scraper.ParseDocument(doc)
	if err != nil {
		return nil, err
	}

	l := models.NewListing(Site, doc.URL)
	l.ScrapeDate = e.now()

	l.Title = scraper.Text(page.Find(selTitle))
	// The type/status line uses the same span style.
	page.Find(selIDSpan).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if m := idRegexp.FindStringSubmatch(s.Text()); len(m) == 2 {
			l.PropertyID = m[1]
			return false
		}
		return true
	})

	if priceText := scraper.Text(page.Find(selPrice)); priceText != "" {
		l.Price = services.ParsePrice(priceText)
		l.Currency = "MXN"
		if strings.Contains(priceText, "$") {
			l.Currency = "USD"
		}
	}

	if words := strings.Fields(page.Find(selTypeStatus).First().Text()); len(words) > 0 {
		l.PropertyType = words[0]
		l.Status = strings.Join(words[1:], " ")
	}

	page.Find(selAddress).Each(func(_ int, row *goquery.Selection) {
		key, value := scraper.LabelledDetail(row)
		switch key {
		case "city":
			l.City = value
		case "area":
			l.Area = value
		case "state/county", "state", "county":
			l.State = value
		case "country":
			l.Country = value
		case "zip":
			l.Zip = value
		}
	})

	page.Find(selDetails).Each(func(_ int, row *goquery.Selection) {
		e.detail(l, row)
	})

	l.Description = scraper.TextLines(page.Find(selDesc).First())

	page.Find(selFeatures).Each(func(_ int, item *goquery.Selection) {
		if text := services.NormaliseText(item.Text()); text != "" {
			l.Features = append(l.Features, text)
		}
	})
	scraper.MatchAmenities(l, l.Features)

	l.AgentName = scraper.Text(page.Find(selAgentName))
	l.AgentPhone = scraper.Text(page.Find(selAgentPhone))
	l.AgentEmail = scraper.Text(page.Find(selAgentEmail))
	l.AgentBio = scraper.Text(page.Find(selAgentBio))
	if photo := services.CSSURL(page.Find(selAgentPhoto).First().AttrOr("style", "")); photo != "" {
		l.AgentPhoto = scraper.ResolveURL(doc.URL, photo)
	}

	e.images(l, page, doc.URL)

	if tour := page.Find(selVirtualTour).First().AttrOr("src", ""); tour != "" {
		l.Extra["virtual_tour_url"] = tour
	}
	if m := page.Find(selMap).First(); m.Length() > 0 {
		l.Latitude = strings.TrimSpace(m.AttrOr("data-cur_lat", ""))
		l.Longitude = strings.TrimSpace(m.AttrOr("data-cur_long", ""))
		if zoom := m.AttrOr("data-zoom", ""); zoom != "" {
			l.Extra["map_zoom"] = zoom
		}
	}

	page.Find(selHiddenForm).Each(func(_ int, in *goquery.Selection) {
		if name := strings.ToLower(strings.TrimSpace(in.AttrOr("name", ""))); name != "" {
			l.Extra["form_"+name] = in.AttrOr("value", "")
		}
	})

	return l, nil
}

// detail maps one row of the details accordion.
func (e *Extractor) detail(l *models.Listing, row *goquery.Selection) {
	key, value := scraper.LabelledDetail(row)
	num := services.FirstNumber(value)

	switch key {
	case "bedrooms":
		l.Bedrooms = num
	case "bathrooms":
		l.Bathrooms = num
		if strings.Contains(value, ".5") {
			l.HalfBaths = "1"
		}
	case "property size":
		l.InteriorSpace = num
	case "land size":
		l.LandSize = num
	case "parking spot number":
		l.ParkingSpaces = num
	case "living rooms", "kitchens", "storage rooms", "terraces":
		// A listed room without a count means one.
		count := "0"
		if value != "" {
			count = num
			if count == "" {
				count = "1"
			}
		}
		l.Extra[strings.ReplaceAll(key, " ", "_")] = count
	}
}

// images merges the carousel's eager and lazy sources. Captions follow the
// alt text of each distinct image.
func (e *Extractor) images(l *models.Listing, page *goquery.Document, base string) {
	set := scraper.NewImageSet(base)
	page.Find(selImages).Each(func(_ int, img *goquery.Selection) {
		before := set.Len()
		set.AddNode(img)
		if set.Len() > before {
			l.ImageCaptions = append(l.ImageCaptions, services.NormaliseText(img.AttrOr("alt", "")))
		}
	})
	l.AllImages = set.URLs()

	active := scraper.NewImageSet(base)
	active.AddNode(page.Find(selMainImage).First())
	if urls := active.URLs(); len(urls) > 0 {
		l.MainImage = urls[0]
	} else if len(l.AllImages) > 0 {
		l.MainImage = l.AllImages[0]
	}
}
