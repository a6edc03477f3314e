package parser

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Location is the result of splitting a "City, ST zip" string.
type Location struct {
	City  string
	State string
	Zip   string
}

var (
	zipRegex    = regexp.MustCompile(`\b(\d{5})(?:-\d{4})?\b`)
	amountRegex = regexp.MustCompile(`^(\d+(\.\d*)?|\.\d+)$`)
	digitsRegex = regexp.MustCompile(`^\d+$`)

	timestampLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04:05.999999",
		"2006-01-02 15:04",
		"01/02/2006 15:04:05",
		"01/02/2006 03:04 PM",
		"01/02/2006 3:04 PM",
		"January 2, 2006 3:04 PM",
	}
)

// SplitLocation splits on the first comma. The city is the trimmed prefix, the
// state is the first two characters of the trimmed remainder, upper-cased.
func SplitLocation(s string) (Location, error) {
	idx := strings.IndexByte(s, ',')
	if idx < 0 {
		return Location{}, newError(MalformedLocation, "no comma in %q", s)
	}

	city := cleanText(s[:idx])
	if city == "" {
		return Location{}, newError(MalformedLocation, "empty city in %q", s)
	}

	rest := []rune(strings.TrimSpace(s[idx+1:]))
	if len(rest) < 2 {
		return Location{}, newError(MalformedLocation, "no state in %q", s)
	}
	state := strings.ToUpper(string(rest[:2]))
	for _, r := range state {
		if r < 'A' || r > 'Z' {
			return Location{}, newError(MalformedLocation, "bad state %q in %q", state, s)
		}
	}

	loc := Location{City: city, State: state}
	if m := zipRegex.FindStringSubmatch(string(rest[2:])); m != nil {
		loc.Zip = m[1]
	}
	return loc, nil
}

// ParseAmount parses a currency string like "$1,250.00". Empty input is zero.
func ParseAmount(s string) (float64, error) {
	cleaned := strings.NewReplacer("$", "", ",", "", "USD", "", " ", "").Replace(strings.TrimSpace(s))
	if cleaned == "" {
		return 0, nil
	}
	if !amountRegex.MatchString(cleaned) {
		return 0, newError(MalformedAmount, "%q", s)
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, newError(MalformedAmount, "%q", s)
	}
	return v, nil
}

// ParseTimestamp accepts unix seconds (or milliseconds) and the layouts the
// providers publish. Zone-less values are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, newError(MalformedTimestamp, "empty")
	}

	if digitsRegex.MatchString(s) {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, newError(MalformedTimestamp, "%q", s)
		}
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}

	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, newError(MalformedTimestamp, "%q", s)
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func selText(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	return cleanText(sel.First().Text())
}

// ResolveURL resolves ref against base; an unparseable base leaves ref as is.
func ResolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return base
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

func imageURLs(sel *goquery.Selection, baseURL string) []string {
	var urls []string
	seen := make(map[string]bool)
	sel.Each(func(_ int, img *goquery.Selection) {
		src, ok := img.Attr("src")
		if !ok || strings.TrimSpace(src) == "" || strings.HasPrefix(src, "data:") {
			return
		}
		abs := ResolveURL(baseURL, src)
		if !seen[abs] {
			seen[abs] = true
			urls = append(urls, abs)
		}
	})
	return urls
}
