package rpemx

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realestate-scraper/models"
	"realestate-scraper/scraper"
	"realestate-scraper/utils"
)

const listingURL = "https://realestate.puerto-escondido.mx/estate_property/oceanfront-lot/"

func TestExtractListing(t *testing.T) {
	body, err := os.ReadFile("testdata/listing.html")
	require.NoError(t, err)

	l, err := NewExtractor().Extract(&scraper.Document{URL: listingURL, StatusCode: 200, ContentType: "text/html", Body: body})
	require.NoError(t, err)

	assert.Equal(t, Site, l.Site)
	assert.Equal(t, "9912", l.PropertyID)
	assert.Equal(t, "Oceanfront Lot in Zicatela", l.Title)
	assert.Equal(t, 4500000.0, l.Price)
	assert.Equal(t, "MXN", l.Currency)
	assert.Equal(t, "Puerto Escondido", l.City)
	assert.Equal(t, "Zicatela", l.Area)

	assert.Equal(t, "4", l.Bedrooms)
	assert.Equal(t, "3.5", l.Bathrooms)
	assert.Equal(t, "1", l.HalfBaths)
	assert.Equal(t, "1320", l.InteriorSpace, "first size row wins")

	assert.Equal(t, []string{
		"https://realestate.puerto-escondido.mx/wp-content/uploads/lot-1.jpg",
		"https://realestate.puerto-escondido.mx/wp-content/uploads/lot-2.jpg",
	}, l.AllImages)
	assert.Equal(t, l.AllImages[0], l.MainImage)

	assert.Equal(t, "15.8431", l.Latitude)
	assert.Equal(t, "-97.0527", l.Longitude)
	assert.Equal(t, "Flat lot with direct beach access.\nWater and electricity at the property line.", l.Description)

	assert.Equal(t, []string{"Beach Access", "Investment Opportunity"}, l.Features)
	assert.True(t, l.Amenities[models.BeachAccess])
	assert.True(t, l.Amenities[models.InvestmentOpportunity])
	assert.False(t, l.Amenities[models.Water], "description text does not set amenities")

	assert.Equal(t, "Marco Diaz", l.AgentName)
	assert.Equal(t, "954 555 0000", l.AgentPhone)
	assert.Equal(t, "marco@puerto-escondido.mx", l.AgentEmail)
	assert.False(t, l.ScrapeDate.IsZero())
}

func TestExtractUSDPrice(t *testing.T) {
	doc := &scraper.Document{URL: listingURL, StatusCode: 200, ContentType: "text/html",
		Body: []byte(`<html><body><div class="price_area">$ 250,000</div></body></html>`)}

	l, err := NewExtractor().Extract(doc)
	require.NoError(t, err)
	assert.Equal(t, 250000.0, l.Price)
	assert.Equal(t, "USD", l.Currency)
}

func TestCarouselStyleOnlyWithoutLazyImage(t *testing.T) {
	tests := []struct {
		name  string
		items string
		want  []string
	}{
		{
			name: "cloned items repeat the lazy image",
			items: `<div class="item" data-lzl-bg="https://e.mx/a.jpg" style="background-image:url(/a-small.jpg)"></div>
				<div class="item" data-lzl-bg="https://e.mx/a.jpg" style="background-image:url(/a-small.jpg)"></div>`,
			want: []string{"https://e.mx/a.jpg"},
		},
		{
			name:  "style is used when the lazy attribute is missing",
			items: `<div class="item" style="background-image:url(https://e.mx/b.jpg)"></div>`,
			want:  []string{"https://e.mx/b.jpg"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := &scraper.Document{URL: listingURL, StatusCode: 200, ContentType: "text/html",
				Body: []byte(`<html><body><h1 class="entry-title">Lot</h1><div id="owl-demo">` + tt.items + `</div></body></html>`)}

			l, err := NewExtractor().Extract(doc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, l.AllImages)
		})
	}
}

func TestExtractNonHTMLFails(t *testing.T) {
	doc := &scraper.Document{URL: listingURL, StatusCode: 200, ContentType: "application/json", Body: []byte(`[]`)}

	_, err := NewExtractor().Extract(doc)
	var ef *scraper.ExtractionFailed
	assert.True(t, errors.As(err, &ef))
}

func TestEnumeratorPageURL(t *testing.T) {
	enum := NewEnumerator(nil, "https://realestate.puerto-escondido.mx/wp-json/wp/v2/estate_property", 50, utils.NewNopLogger())

	u, err := enum.PageURL(3)
	require.NoError(t, err)
	assert.Equal(t, "https://realestate.puerto-escondido.mx/wp-json/wp/v2/estate_property?page=3&per_page=50", u)
	assert.Equal(t, 1, enum.Start().Page)
}
