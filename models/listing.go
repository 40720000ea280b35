package models

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// Amenity is one flag of the fixed amenity vocabulary.
type Amenity string

const (
	Appliances            Amenity = "appliances"
	BeachAccess           Amenity = "beach_access"
	CloseToAirport        Amenity = "close_to_airport"
	CloseToBeach          Amenity = "close_to_beach"
	Electricity           Amenity = "electricity"
	Furnished             Amenity = "furnished"
	GatedCommunity        Amenity = "gated_community"
	HighRentalRevenue     Amenity = "high_rental_revenue"
	InvestmentOpportunity Amenity = "investment_opportunity"
	StorageArea           Amenity = "storage_area"
	SunDeck               Amenity = "sun_deck"
	SwimmingPool          Amenity = "swimming_pool"
	Terrace               Amenity = "terrace"
	UniqueLocation        Amenity = "unique_location"
	Water                 Amenity = "water"
)

// Amenities lists the vocabulary in column order.
var Amenities = []Amenity{
	Appliances, BeachAccess, CloseToAirport, CloseToBeach, Electricity,
	Furnished, GatedCommunity, HighRentalRevenue, InvestmentOpportunity,
	StorageArea, SunDeck, SwimmingPool, Terrace, UniqueLocation, Water,
}

// Phrase is the human-readable text matched against feature blocks.
func (a Amenity) Phrase() string {
	return strings.ReplaceAll(string(a), "_", " ")
}

// Listing is one extracted property record. It is built once per fetched
// page and not modified after extraction.
type Listing struct {
	Site       string
	URL        string
	PropertyID string

	Title        string
	Status       string
	PropertyType string
	Description  string

	Price    float64
	Currency string

	City      string
	Area      string
	State     string
	Country   string
	Zip       string
	Latitude  string
	Longitude string

	Bedrooms      string
	Bathrooms     string
	HalfBaths     string
	InteriorSpace string
	LandSize      string
	ParkingSpaces string
	Amenities     map[Amenity]bool
	Features      []string

	MainImage     string
	AllImages     []string
	ImageCaptions []string

	AgentName  string
	AgentPhone string
	AgentEmail string
	AgentBio   string
	AgentPhoto string

	// Extra holds optional fields observed on some pages only
	// (room counts, virtual tour, map zoom, hidden form inputs).
	Extra map[string]string

	ScrapeDate time.Time
}

// NewListing returns a Listing for url with every amenity flag set to false.
func NewListing(site, url string) *Listing {
	l := &Listing{
		Site:      site,
		URL:       url,
		Amenities: make(map[Amenity]bool, len(Amenities)),
		Extra:     make(map[string]string),
	}
	for _, a := range Amenities {
		l.Amenities[a] = false
	}
	return l
}

// Key returns the upsert matching key: property_id when known, else url.
func (l *Listing) Key() (column, value string) {
	if id := strings.TrimSpace(l.PropertyID); id != "" {
		return "property_id", id
	}
	return "url", l.URL
}

// RequiredFields is the key set every serialized Listing carries.
var RequiredFields = func() []string {
	fields := []string{
		"url", "property_id", "title", "status", "property_type", "description",
		"price", "currency",
		"city", "area", "state", "country", "zip", "latitude", "longitude",
		"bedrooms", "bathrooms", "half_baths", "interior_space", "land_size", "parking_spaces",
	}
	for _, a := range Amenities {
		fields = append(fields, string(a))
	}
	return append(fields,
		"main_image", "all_images", "image_captions",
		"agent_name", "agent_phone", "agent_email", "agent_bio", "agent_photo",
		"scrape_date",
	)
}()

// ListSeparator joins multi-valued fields in flat records.
const ListSeparator = "\n"

// Record flattens the Listing into a string map holding every RequiredFields
// key plus the observed Extra keys. Unknown values are empty strings.
func (l *Listing) Record() map[string]string {
	rec := map[string]string{
		"url":            l.URL,
		"property_id":    l.PropertyID,
		"title":          l.Title,
		"status":         l.Status,
		"property_type":  l.PropertyType,
		"description":    l.Description,
		"price":          strconv.FormatFloat(l.Price, 'f', -1, 64),
		"currency":       l.Currency,
		"city":           l.City,
		"area":           l.Area,
		"state":          l.State,
		"country":        l.Country,
		"zip":            l.Zip,
		"latitude":       l.Latitude,
		"longitude":      l.Longitude,
		"bedrooms":       l.Bedrooms,
		"bathrooms":      l.Bathrooms,
		"half_baths":     l.HalfBaths,
		"interior_space": l.InteriorSpace,
		"land_size":      l.LandSize,
		"parking_spaces": l.ParkingSpaces,
		"main_image":     l.MainImage,
		"all_images":     strings.Join(l.AllImages, ListSeparator),
		"image_captions": strings.Join(l.ImageCaptions, ListSeparator),
		"agent_name":     l.AgentName,
		"agent_phone":    l.AgentPhone,
		"agent_email":    l.AgentEmail,
		"agent_bio":      l.AgentBio,
		"agent_photo":    l.AgentPhoto,
		"scrape_date":    "",
	}
	if !l.ScrapeDate.IsZero() {
		rec["scrape_date"] = l.ScrapeDate.Format(time.RFC3339)
	}
	for _, a := range Amenities {
		rec[string(a)] = strconv.FormatBool(l.Amenities[a])
	}
	for k, v := range l.Extra {
		if _, reserved := rec[k]; !reserved {
			rec[k] = v
		}
	}
	return rec
}

// OptionalKeys returns the Extra keys in sorted order.
func (l *Listing) OptionalKeys() []string {
	keys := make([]string, 0, len(l.Extra))
	for k := range l.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PersistedListing is the store-side row. IsNew and Processed are owned by
// the store and never produced by extraction.
type PersistedListing struct {
	ID int64
	*Listing
	IsNew     bool
	Processed bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
