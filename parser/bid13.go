package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"auction_scraper/models"

	"github.com/PuerkitoBio/goquery"
)

var leadingDigits = regexp.MustCompile(`\d+`)

// Bid13ListingSelector matches one listing fragment on a bid13 search page.
const Bid13ListingSelector = "li.auction-search-result"

func Bid13ID(f Fragment) string {
	id, _ := f.Sel.Find("a.auction-link-wrapper").First().Attr("data-node-id")
	return strings.TrimSpace(id)
}

func ParseBid13(f Fragment, baseURL string) (*models.ParsedListing, error) {
	s := f.Sel

	id := Bid13ID(f)
	if id == "" {
		return nil, newError(MissingExternalID, "no data-node-id on listing link")
	}

	facility := selText(s.Find("span.auc-owner span.field-content"))
	if facility == "" {
		return nil, newError(MissingFacilityName, "listing %s", id)
	}

	address := selText(s.Find("div.auc-address"))
	if address == "" {
		return nil, newError(MalformedLocation, "listing %s has no address", id)
	}
	loc, err := SplitLocation(address)
	if err != nil {
		return nil, err
	}

	bid, err := ParseAmount(selText(s.Find("div.auc-current-bid")))
	if err != nil {
		return nil, err
	}

	closesAt, err := bid13ClosesAt(s, f.FetchedAt)
	if err != nil {
		return nil, err
	}

	unit := selText(s.Find("span.title"))
	if unit == "" {
		unit = "N/A"
	}

	source := baseURL
	if href, ok := s.Find("a.auction-link-wrapper").First().Attr("href"); ok {
		source = ResolveURL(baseURL, href)
	}

	return &models.ParsedListing{
		ExternalAuctionID: id,
		UnitNumber:        unit,
		UnitSize:          selText(s.Find("span.unit-size")),
		Description:       "Storage unit " + unit,
		FacilityName:      facility,
		City:              loc.City,
		State:             loc.State,
		ZipCode:           loc.Zip,
		ClosesAt:          closesAt,
		CurrentBid:        bid,
		SourceURL:         source,
		ImageURLs:         imageURLs(s.Find("img"), baseURL),
	}, nil
}

// bid13ClosesAt reads data-expiry, falling back to the rendered countdown
// counted from the time the page was fetched.
func bid13ClosesAt(s *goquery.Selection, fetchedAt time.Time) (time.Time, error) {
	countdown := s.Find("div.countdown").First()
	if expiry := strings.TrimSpace(countdown.AttrOr("data-expiry", "")); expiry != "" {
		return ParseTimestamp(expiry)
	}

	var total time.Duration
	found := false
	units := []struct {
		sel  string
		unit time.Duration
	}{
		{"div.time-days", 24 * time.Hour},
		{"div.time-hours", time.Hour},
		{"div.time-minutes", time.Minute},
		{"div.time-seconds", time.Second},
	}
	for _, u := range units {
		el := countdown.Find(u.sel)
		if el.Length() == 0 {
			continue
		}
		found = true
		digits := leadingDigits.FindString(selText(el))
		if digits == "" {
			continue
		}
		n, err := strconv.Atoi(digits)
		if err != nil {
			return time.Time{}, newError(MalformedTimestamp, "countdown %s %q", u.sel, digits)
		}
		total += time.Duration(n) * u.unit
	}
	if !found || fetchedAt.IsZero() {
		return time.Time{}, newError(MalformedTimestamp, "no expiry or countdown")
	}
	return fetchedAt.Add(total).UTC().Truncate(time.Second), nil
}
