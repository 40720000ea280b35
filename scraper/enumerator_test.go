package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strconv"
	"testing"

	"realestate-scraper/utils"
)

const base = "https://homes.test"

func indexPage(next string, links ...string) string {
	s := `<html><body><div class="grid">`
	for _, l := range links {
		s += `<div class="card"><h4><a href="` + l + `">listing</a></h4></div>`
	}
	s += `</div>`
	if next != "" {
		s += `<ul><li class="next"><a href="` + next + `">next</a></li></ul>`
	}
	return s + `</body></html>`
}

func newTestWalk(f Fetcher) *LinkWalk {
	return NewLinkWalk(f, LinkWalkConfig{
		StartURL:     base + "/city/",
		ItemSelector: "div.card",
		LinkSelector: "h4 a",
		NextSelector: "li.next a",
	}, utils.NewNopLogger())
}

func TestLinkWalkFollowsNextUntilDone(t *testing.T) {
	f := newFakeFetcher()
	f.set(base+"/city/", 200, "text/html", indexPage("/city/page/2/", "/p/1", "/p/2", "/p/1#photos"))
	f.set(base+"/city/page/2/", 200, "text/html", indexPage("", "/p/3"))

	w := newTestWalk(f)
	cur := w.Start()

	b, err := w.NextBatch(context.Background(), cur)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	want := []string{base + "/p/1", base + "/p/2"}
	if !reflect.DeepEqual(b.URLs, want) {
		t.Errorf("page 1 URLs = %v; want %v", b.URLs, want)
	}
	if b.Stop != StopNone || b.Next.URL != base+"/city/page/2/" || b.Next.Page != 2 {
		t.Errorf("page 1 next = %+v stop %s", b.Next, b.Stop)
	}

	b, err = w.NextBatch(context.Background(), b.Next)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if b.Stop != StopDone {
		t.Errorf("page 2 stop = %s; want done", b.Stop)
	}
	if !reflect.DeepEqual(b.URLs, []string{base + "/p/3"}) {
		t.Errorf("page 2 URLs = %v", b.URLs)
	}
}

func TestLinkWalkStopsOnRepeatedListing(t *testing.T) {
	f := newFakeFetcher()
	f.set(base+"/city/", 200, "text/html", indexPage("/city/page/2/", "/p/1", "/p/2"))
	f.set(base+"/city/page/2/", 200, "text/html", indexPage("/city/page/3/", "/p/3", "/p/1", "/p/4"))

	w := newTestWalk(f)
	b, _ := w.NextBatch(context.Background(), w.Start())
	b, err := w.NextBatch(context.Background(), b.Next)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if b.Stop != StopCycle {
		t.Errorf("stop = %s; want cycle", b.Stop)
	}
	if !reflect.DeepEqual(b.URLs, []string{base + "/p/3"}) {
		t.Errorf("URLs = %v; want only those before the repeat", b.URLs)
	}
}

func TestLinkWalkStopsOnVisitedNextPage(t *testing.T) {
	f := newFakeFetcher()
	f.set(base+"/city/", 200, "text/html", indexPage("/city/", "/p/1"))

	w := newTestWalk(f)
	b, err := w.NextBatch(context.Background(), w.Start())
	if err != nil {
		t.Fatal(err)
	}
	if b.Stop != StopCycle {
		t.Errorf("stop = %s; want cycle", b.Stop)
	}
}

func TestLinkWalkStartResetsState(t *testing.T) {
	f := newFakeFetcher()
	f.set(base+"/city/", 200, "text/html", indexPage("", "/p/1"))

	w := newTestWalk(f)
	for run := 1; run <= 2; run++ {
		b, err := w.NextBatch(context.Background(), w.Start())
		if err != nil {
			t.Fatal(err)
		}
		if b.Stop != StopDone || len(b.URLs) != 1 {
			t.Errorf("run %d: stop %s, %d URLs", run, b.Stop, len(b.URLs))
		}
	}
}

func TestLinkWalkIndexErrorStatus(t *testing.T) {
	f := newFakeFetcher()
	f.set(base+"/city/", 403, "text/html", "forbidden")

	w := newTestWalk(f)
	if _, err := w.NextBatch(context.Background(), w.Start()); err == nil {
		t.Error("expected error for 403 index page")
	}
}

func TestAPICursorPagesUntilEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("per_page") != "2" {
			t.Errorf("per_page = %q", r.URL.Query().Get("per_page"))
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("page") {
		case "1":
			w.Write([]byte(`[{"id":1,"link":"https://homes.test/p/1"},{"id":2,"link":"https://homes.test/p/2"}]`))
		case "2":
			w.Write([]byte(`[{"id":3,"link":"https://homes.test/p/3"},{"id":4}]`))
		default:
			w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()

	c := NewAPICursor(newTestFetcher(), APICursorConfig{BaseURL: srv.URL + "/wp-json/wp/v2/estate_property", PageSize: 2}, utils.NewNopLogger())

	var got []string
	cur := c.Start()
	for i := 0; i < 5; i++ {
		b, err := c.NextBatch(context.Background(), cur)
		if err != nil {
			t.Fatalf("page %d: %v", cur.Page, err)
		}
		got = append(got, b.URLs...)
		if b.Stop == StopDone {
			break
		}
		cur = b.Next
	}
	if len(got) != 3 {
		t.Errorf("links = %v; want 3", got)
	}
	if cur.Page != 3 {
		t.Errorf("stopped at page %d; want 3", cur.Page)
	}
}

func TestAPICursorBadRequestPastLastPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page > 1 {
			http.Error(w, `{"code":"rest_post_invalid_page_number"}`, http.StatusBadRequest)
			return
		}
		w.Write([]byte(`[{"link":"https://homes.test/p/1"}]`))
	}))
	defer srv.Close()

	c := NewAPICursor(newTestFetcher(), APICursorConfig{BaseURL: srv.URL}, utils.NewNopLogger())
	b, err := c.NextBatch(context.Background(), Cursor{Page: 2})
	if err != nil {
		t.Fatalf("NextBatch: %v", err)
	}
	if b.Stop != StopDone {
		t.Errorf("stop = %s; want done", b.Stop)
	}

	if _, err := c.NextBatch(context.Background(), Cursor{Page: 1}); err != nil {
		t.Errorf("page 1: %v", err)
	}
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		href string
		want string
		ok   bool
	}{
		{"/p/1", "https://homes.test/p/1", true},
		{"p/2?x=1#top", "https://homes.test/city/p/2?x=1", true},
		{"https://other.test/a", "https://other.test/a", true},
		{"#gallery", "", false},
		{"mailto:agent@homes.test", "", false},
		{"  ", "", false},
	}
	for _, tt := range tests {
		got, ok := resolveURL(base+"/city/", tt.href)
		if got != tt.want || ok != tt.ok {
			t.Errorf("resolveURL(%q) = %q, %t; want %q, %t", tt.href, got, ok, tt.want, tt.ok)
		}
	}
}
