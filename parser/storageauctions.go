package parser

import (
	"regexp"
	"strings"

	"auction_scraper/models"
)

// StorageAuctionsListingSelector matches one listing fragment on a
// storageauctions.com search page.
const StorageAuctionsListingSelector = "ul.main-list-wrap > li:has(div)"

var (
	closingScriptRegex = regexp.MustCompile(`moment\.tz\("([^"]+)",\s*"[^"]+"\);\s*setModel\("AuctionsUnits","(\d+)"\)`)
	onclickURLRegex    = regexp.MustCompile(`"([^"]+)"|'([^']+)'`)
)

// StorageAuctionsClosings pulls the id -> closing time map out of the page's
// inline countdown scripts.
func StorageAuctionsClosings(html string) map[string]string {
	closings := make(map[string]string)
	for _, m := range closingScriptRegex.FindAllStringSubmatch(html, -1) {
		closings[m[2]] = m[1]
	}
	return closings
}

func StorageAuctionsID(f Fragment) string {
	id, ok := f.Sel.Find(`span[id^="current_bid_"]`).First().Attr("id")
	if !ok {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(id, "current_bid_"))
}

func ParseStorageAuctions(f Fragment, baseURL string) (*models.ParsedListing, error) {
	s := f.Sel

	id := StorageAuctionsID(f)
	if id == "" {
		return nil, newError(MissingExternalID, "no current_bid_ span")
	}

	facility := selText(s.Find("div.location"))
	if facility == "" {
		return nil, newError(MissingFacilityName, "listing %s", id)
	}

	address := selText(s.Find("address"))
	if address == "" {
		return nil, newError(MalformedLocation, "listing %s has no address", id)
	}
	street, locPart := splitStreet(address)
	loc, err := SplitLocation(locPart)
	if err != nil {
		return nil, err
	}

	bid, err := ParseAmount(selText(s.Find(`span[id^="current_bid_"]`)))
	if err != nil {
		return nil, err
	}

	raw, ok := f.Closings[id]
	if !ok {
		return nil, newError(MalformedTimestamp, "no closing time for listing %s", id)
	}
	closesAt, err := ParseTimestamp(raw)
	if err != nil {
		return nil, err
	}

	source := baseURL
	thumb := s.Find("img.auctionTn").First()
	if onclick, ok := thumb.Attr("onclick"); ok {
		if m := onclickURLRegex.FindStringSubmatch(onclick); m != nil {
			link := m[1]
			if link == "" {
				link = m[2]
			}
			source = ResolveURL(baseURL, link)
		}
	}

	return &models.ParsedListing{
		ExternalAuctionID: id,
		UnitNumber:        "Unit-" + id,
		UnitSize:          selText(s.Find("span.auction-unit-size")),
		Description:       "Storage auction at " + facility,
		FacilityName:      facility,
		AddressLine1:      street,
		City:              loc.City,
		State:             loc.State,
		ZipCode:           loc.Zip,
		ClosesAt:          closesAt,
		CurrentBid:        bid,
		SourceURL:         source,
		ImageURLs:         imageURLs(s.Find("img.auctionTn"), baseURL),
	}, nil
}

// splitStreet separates "street[, suite...], City, ST zip" into the street
// and the trailing "City, ST zip". City and state are always the last two
// comma segments.
func splitStreet(address string) (street, location string) {
	parts := strings.Split(address, ",")
	if len(parts) < 3 {
		return "", address
	}
	n := len(parts)
	for i := range parts[:n-2] {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return strings.Join(parts[:n-2], ", "), parts[n-2] + "," + parts[n-1]
}
