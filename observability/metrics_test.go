package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realestate-scraper/models"
	"realestate-scraper/scraper"
)

var _ scraper.Observer = (*Metrics)(nil)

func TestMetricsCountEvents(t *testing.T) {
	m := NewMetrics(nil)

	m.RunStarted("bayside")
	m.PageFetched("bayside")
	m.ListingScraped("bayside")
	m.ListingScraped("bayside")
	m.ListingSkipped("bayside", "seen")
	m.ListingFailed("bayside", "fetch")
	m.ListingsPersisted("bayside", 2)
	m.DedupDegraded("bayside")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PagesFetched.WithLabelValues("bayside")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ListingsScraped.WithLabelValues("bayside")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ListingsSkipped.WithLabelValues("bayside", "seen")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ListingsFailed.WithLabelValues("bayside", "fetch")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PersistedTotal.WithLabelValues("bayside")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DedupDegradations.WithLabelValues("bayside")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsActive.WithLabelValues("bayside")))

	m.RunFinished("bayside", models.StateCompleted, 3*time.Second)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RunsActive.WithLabelValues("bayside")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsFinished.WithLabelValues("bayside", "completed")))
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics(nil)
	m.ListingScraped("rpemx")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `realestate_listings_scraped_total{site="rpemx"} 1`)
}
