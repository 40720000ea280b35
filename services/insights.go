package services

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"realestate-scraper/models"
	"realestate-scraper/utils"
)

// InsightService summarises the listings and run outcomes of a crawl.
type InsightService struct {
	logger *utils.Logger
}

// NewInsightService creates an InsightService.
func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

// Generate computes price, location and amenity figures over listings.
func (s *InsightService) Generate(listings []*models.Listing) *models.InsightReport {
	report := &models.InsightReport{
		ListingsBySite:  make(map[string]int),
		ListingsByCity:  make(map[string]int),
		PriceByCurrency: make(map[string]models.PriceStats),
		AmenityCounts:   make(map[models.Amenity]int),
		MissingRequired: make(map[string]int),
	}

	if len(listings) == 0 {
		return report
	}

	report.TotalListings = len(listings)

	totals := make(map[string]float64)
	for _, l := range listings {
		report.ListingsBySite[l.Site]++
		if l.City != "" {
			report.ListingsByCity[l.City]++
		}
		if l.Latitude != "" && l.Longitude != "" {
			report.WithCoordinates++
		}
		if len(l.AllImages) > 0 {
			report.WithImages++
		}
		for a, on := range l.Amenities {
			if on {
				report.AmenityCounts[a]++
			}
		}
		for k, v := range l.Record() {
			if v == "" && isRequired(k) {
				report.MissingRequired[k]++
			}
		}

		if l.Price <= 0 {
			continue
		}
		cur := l.Currency
		st, ok := report.PriceByCurrency[cur]
		if !ok || l.Price < st.Min {
			st.Min = l.Price
		}
		if l.Price > st.Max {
			st.Max = l.Price
		}
		st.Count++
		totals[cur] += l.Price
		report.PriceByCurrency[cur] = st

		if report.MostExpensive == nil ||
			(l.Currency == report.MostExpensive.Currency && l.Price > report.MostExpensive.Price) {
			report.MostExpensive = l
		}
	}

	for cur, st := range report.PriceByCurrency {
		st.Average = round2(totals[cur] / float64(st.Count))
		st.Min = round2(st.Min)
		st.Max = round2(st.Max)
		report.PriceByCurrency[cur] = st
	}

	s.logger.Debug("[insights] Report over %d listings", report.TotalListings)
	return report
}

// PrintRuns renders one row per run summary.
func (s *InsightService) PrintRuns(w io.Writer, runs []*models.RunSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Crawl runs")
	t.AppendHeader(table.Row{"Site", "State", "Stop", "Pages", "Scraped", "Persisted", "Skipped", "Errors", "Duration", "Last error"})
	for _, r := range runs {
		t.AppendRow(table.Row{
			r.Site, r.State, r.StopReason, r.Pages, r.TotalScraped, r.Persisted,
			r.Skipped, r.ErrorCount, r.Duration().Round(1e9), truncate(r.LastError, 40),
		})
	}
	t.Render()
}

// Print renders the listing report.
func (s *InsightService) Print(w io.Writer, r *models.InsightReport) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Listing insights")
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRow(table.Row{"Total listings", r.TotalListings})
	t.AppendRow(table.Row{"With coordinates", r.WithCoordinates})
	t.AppendRow(table.Row{"With images", r.WithImages})
	for _, site := range sortedKeys(r.ListingsBySite) {
		t.AppendRow(table.Row{"Site " + site, r.ListingsBySite[site]})
	}
	t.AppendSeparator()

	currencies := make([]string, 0, len(r.PriceByCurrency))
	for cur := range r.PriceByCurrency {
		currencies = append(currencies, cur)
	}
	sort.Strings(currencies)
	for _, cur := range currencies {
		st := r.PriceByCurrency[cur]
		t.AppendRow(table.Row{
			fmt.Sprintf("Price %s (n=%d)", cur, st.Count),
			fmt.Sprintf("avg %.2f | min %.2f | max %.2f", st.Average, st.Min, st.Max),
		})
	}
	if r.MostExpensive != nil {
		t.AppendRow(table.Row{"Most expensive", fmt.Sprintf("%s (%.2f %s)",
			truncate(r.MostExpensive.Title, 40), r.MostExpensive.Price, r.MostExpensive.Currency)})
	}
	t.AppendSeparator()

	for _, city := range topCities(r.ListingsByCity, 5) {
		t.AppendRow(table.Row{"City " + city, strings.Repeat("█", min(r.ListingsByCity[city], 30))})
	}
	t.Render()
}

func isRequired(key string) bool {
	for _, f := range models.RequiredFields {
		if f == key {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func topCities(m map[string]int, n int) []string {
	keys := sortedKeys(m)
	sort.SliceStable(keys, func(i, j int) bool { return m[keys[i]] > m[keys[j]] })
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
