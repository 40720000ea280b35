package services

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"realestate-scraper/models"
	"realestate-scraper/utils"
)

var (
	// priceRegexp captures the first numeric price value
	priceRegexp = regexp.MustCompile(`\d+(?:\.\d+)?`)
	// numberRegexp captures the first run of digits, dots and separators
	numberRegexp = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)
	// intRegexp captures the first digit sequence
	intRegexp = regexp.MustCompile(`\d+`)
	// cssURLRegexp captures the target of a CSS url(...) expression
	cssURLRegexp = regexp.MustCompile(`url\(\s*['"]?([^'")]+?)['"]?\s*\)`)
)

// ParsePrice strips thousands separators and returns the first number, 0 when none.
func ParsePrice(raw string) float64 {
	cleaned := strings.ReplaceAll(raw, ",", "")
	match := priceRegexp.FindString(cleaned)
	if match == "" {
		return 0
	}
	val, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0
	}
	return val
}

// FirstNumber returns the first numeric run of raw with thousands separators
// removed ("1,250.5 m2" -> "1250.5"). Empty when raw holds no digit.
func FirstNumber(raw string) string {
	match := numberRegexp.FindString(raw)
	return strings.ReplaceAll(match, ",", "")
}

// FirstInt returns the leading digit sequence of raw after stripping
// thousands separators ("3 bedrooms" -> "3").
func FirstInt(raw string) string {
	return intRegexp.FindString(strings.ReplaceAll(raw, ",", ""))
}

// CSSURL extracts the address from a style attribute such as
// "background-image: url('a.jpg')". Empty when there is none.
func CSSURL(style string) string {
	m := cssURLRegexp.FindStringSubmatch(style)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// NormaliseText strips leading/trailing whitespace and collapses internal whitespace.
func NormaliseText(s string) string {
	s = strings.TrimSpace(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}

// NormaliseLines collapses whitespace inside each line and drops blank lines,
// keeping the line structure of multi-line descriptions.
func NormaliseLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = NormaliseText(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// Cleaner filters a batch of listings before it is written.
type Cleaner struct {
	logger *utils.Logger
}

// NewCleaner creates a Cleaner with the given logger.
func NewCleaner(logger *utils.Logger) *Cleaner {
	return &Cleaner{logger: logger}
}

// Clean drops listings without a URL and collapses listings sharing a
// matching key, keeping the last one seen.
func (c *Cleaner) Clean(batch []*models.Listing) []*models.Listing {
	index := make(map[string]int, len(batch))
	result := make([]*models.Listing, 0, len(batch))

	for _, l := range batch {
		if l == nil || strings.TrimSpace(l.URL) == "" {
			c.logger.Warn("[cleaner] Dropping listing with empty URL")
			continue
		}

		col, val := l.Key()
		key := col + "=" + val
		if i, dup := index[key]; dup {
			c.logger.Debug("[cleaner] Duplicate %s replaced: %s", col, val)
			result[i] = l
			continue
		}
		index[key] = len(result)
		result = append(result, l)
	}

	if dropped := len(batch) - len(result); dropped > 0 {
		c.logger.Info("[cleaner] Cleaned %d -> %d listings (dropped %d)", len(batch), len(result), dropped)
	}
	return result
}
