package services

import (
	"bytes"
	"strings"
	"testing"

	"realestate-scraper/models"
)

func listing(site, title, city, currency string, price float64) *models.Listing {
	l := models.NewListing(site, "https://example.test/"+strings.ReplaceAll(strings.ToLower(title), " ", "-"))
	l.Title = title
	l.City = city
	l.Currency = currency
	l.Price = price
	return l
}

func sampleListings() []*models.Listing {
	a := listing("bayside", "Villa A", "Puerto Escondido", "USD", 200000)
	a.Latitude, a.Longitude = "15.86", "-97.07"
	a.Amenities[models.SwimmingPool] = true
	b := listing("bayside", "Studio B", "Puerto Escondido", "USD", 50000)
	b.AllImages = []string{"https://example.test/b.jpg"}
	c := listing("rpemx", "Lot C", "Mazunte", "MXN", 1200000)
	d := listing("rpemx", "House D", "", "USD", 0)
	return []*models.Listing{a, b, c, d}
}

func TestInsightCounts(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	r := svc.Generate(sampleListings())
	if r.TotalListings != 4 {
		t.Errorf("TotalListings: got %d, want 4", r.TotalListings)
	}
	if r.ListingsBySite["bayside"] != 2 || r.ListingsBySite["rpemx"] != 2 {
		t.Errorf("ListingsBySite: got %v", r.ListingsBySite)
	}
	if r.ListingsByCity["Puerto Escondido"] != 2 {
		t.Errorf("ListingsByCity: got %v", r.ListingsByCity)
	}
	if r.WithCoordinates != 1 || r.WithImages != 1 {
		t.Errorf("WithCoordinates/WithImages: got %d/%d, want 1/1", r.WithCoordinates, r.WithImages)
	}
	if r.AmenityCounts[models.SwimmingPool] != 1 {
		t.Errorf("AmenityCounts: got %v", r.AmenityCounts)
	}
}

func TestInsightPricesPerCurrency(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	r := svc.Generate(sampleListings())

	usd := r.PriceByCurrency["USD"]
	if usd.Count != 2 {
		t.Errorf("USD count: got %d, want 2 (zero prices are skipped)", usd.Count)
	}
	if usd.Average != 125000 {
		t.Errorf("USD average: got %.2f, want 125000", usd.Average)
	}
	if usd.Min != 50000 || usd.Max != 200000 {
		t.Errorf("USD min/max: got %.2f/%.2f", usd.Min, usd.Max)
	}
	if r.PriceByCurrency["MXN"].Count != 1 {
		t.Errorf("MXN count: got %d, want 1", r.PriceByCurrency["MXN"].Count)
	}
}

func TestInsightMostExpensive(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	r := svc.Generate(sampleListings())
	if r.MostExpensive == nil {
		t.Fatal("MostExpensive should not be nil")
	}
	if r.MostExpensive.Title != "Villa A" {
		t.Errorf("MostExpensive: got %q, want %q", r.MostExpensive.Title, "Villa A")
	}
}

func TestInsightEmpty(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	r := svc.Generate(nil)
	if r.TotalListings != 0 {
		t.Errorf("TotalListings: got %d, want 0", r.TotalListings)
	}
	if r.MostExpensive != nil {
		t.Error("MostExpensive should be nil for an empty report")
	}
}

func TestInsightPrint(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	var buf bytes.Buffer
	svc.Print(&buf, svc.Generate(sampleListings()))
	svc.PrintRuns(&buf, []*models.RunSummary{{Site: "bayside", State: models.StateCompleted, TotalScraped: 2}})

	out := buf.String()
	for _, want := range []string{"Total listings", "Price USD", "bayside", "completed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
