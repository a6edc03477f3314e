package parser

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const bid13Base = "https://bid13.com/auctions?city=Sacramento&state=CA"

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	path := filepath.Join("testdata", name)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return data
}

func loadFragments(t *testing.T, name, selector string, fetchedAt time.Time) []Fragment {
	t.Helper()
	data := loadFixture(t, name)
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("failed to parse fixture %s: %v", name, err)
	}
	closings := StorageAuctionsClosings(string(data))
	var frags []Fragment
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		frags = append(frags, Fragment{Sel: s, FetchedAt: fetchedAt, Closings: closings})
	})
	return frags
}

func TestParseBid13_Listings(t *testing.T) {
	fetchedAt := time.Date(2029, 6, 1, 12, 0, 0, 0, time.UTC)
	frags := loadFragments(t, "bid13_search.html", Bid13ListingSelector, fetchedAt)
	if len(frags) != 4 {
		t.Fatalf("expected 4 fragments, got %d", len(frags))
	}

	first, err := ParseBid13(frags[0], bid13Base)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if first.ExternalAuctionID != "884512" {
		t.Fatalf("expected id 884512, got %s", first.ExternalAuctionID)
	}
	if first.UnitNumber != "Unit B-214" || first.UnitSize != "10x10" {
		t.Fatalf("unexpected unit %q size %q", first.UnitNumber, first.UnitSize)
	}
	if first.FacilityName != "Public Storage Midtown" {
		t.Fatalf("unexpected facility %s", first.FacilityName)
	}
	if first.City != "Sacramento" || first.State != "CA" || first.ZipCode != "95814" {
		t.Fatalf("unexpected location %s, %s %s", first.City, first.State, first.ZipCode)
	}
	if first.CurrentBid != 1250 {
		t.Fatalf("expected bid 1250, got %v", first.CurrentBid)
	}
	if !first.ClosesAt.Equal(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected closes_at %s", first.ClosesAt)
	}
	if first.SourceURL != "https://bid13.com/auctions/884512-sacramento-10x10" {
		t.Fatalf("unexpected source url %s", first.SourceURL)
	}
	if len(first.ImageURLs) != 2 {
		t.Fatalf("expected 2 images, got %d", len(first.ImageURLs))
	}
	if first.ImageURLs[0] != "https://bid13.com/sites/default/files/auctions/884512_1.jpg" {
		t.Fatalf("unexpected first image %s", first.ImageURLs[0])
	}

	second, err := ParseBid13(frags[1], bid13Base)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if second.FacilityName != "Carson Self Storage" {
		t.Fatalf("expected collapsed facility name, got %q", second.FacilityName)
	}
	if second.City != "Carson City" || second.State != "NV" || second.ZipCode != "" {
		t.Fatalf("unexpected location %s, %s %q", second.City, second.State, second.ZipCode)
	}
	if !second.ClosesAt.Equal(time.Date(2030, 1, 25, 15, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected closes_at %s", second.ClosesAt)
	}
	if second.SourceURL != "https://bid13.com/auctions/884513-carson-city" {
		t.Fatalf("unexpected source url %s", second.SourceURL)
	}

	third, err := ParseBid13(frags[2], bid13Base)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if third.UnitNumber != "N/A" {
		t.Fatalf("expected N/A unit, got %s", third.UnitNumber)
	}
	if third.CurrentBid != 0 {
		t.Fatalf("expected zero bid, got %v", third.CurrentBid)
	}
	wantClose := fetchedAt.Add(2*24*time.Hour + 3*time.Hour + 15*time.Minute)
	if !third.ClosesAt.Equal(wantClose) {
		t.Fatalf("expected countdown close %s, got %s", wantClose, third.ClosesAt)
	}
}

func TestParseBid13_MissingLocation(t *testing.T) {
	frags := loadFragments(t, "bid13_search.html", Bid13ListingSelector, time.Now())
	_, err := ParseBid13(frags[3], bid13Base)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if pe.Kind != MalformedLocation {
		t.Fatalf("expected %s, got %s", MalformedLocation, pe.Kind)
	}
}

func TestParseBid13_MissingFields(t *testing.T) {
	cases := []struct {
		html string
		kind Kind
	}{
		{`<li class="auction-search-result"><a class="auction-link-wrapper" href="/a/1"></a></li>`, MissingExternalID},
		{`<li class="auction-search-result"><a class="auction-link-wrapper" data-node-id="1"><div class="auc-address">Reno, NV</div></a></li>`, MissingFacilityName},
		{`<li class="auction-search-result"><a class="auction-link-wrapper" data-node-id="1"><span class="auc-owner"><span class="field-content">X</span></span><div class="auc-address">Reno, NV</div><div class="auc-current-bid">ask</div></a></li>`, MalformedAmount},
		{`<li class="auction-search-result"><a class="auction-link-wrapper" data-node-id="1"><span class="auc-owner"><span class="field-content">X</span></span><div class="auc-address">Reno, NV</div><div class="countdown" data-expiry="soon"></div></a></li>`, MalformedTimestamp},
		{`<li class="auction-search-result"><a class="auction-link-wrapper" data-node-id="1"><span class="auc-owner"><span class="field-content">X</span></span><div class="auc-address">Reno, NV</div></a></li>`, MalformedTimestamp},
	}
	for i, tc := range cases {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader([]byte("<ul>" + tc.html + "</ul>")))
		if err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
		frag := Fragment{Sel: doc.Find(Bid13ListingSelector).First(), FetchedAt: time.Now()}
		_, err = ParseBid13(frag, bid13Base)
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("case %d: expected ParseError, got %v", i, err)
		}
		if pe.Kind != tc.kind {
			t.Fatalf("case %d: expected %s, got %s", i, tc.kind, pe.Kind)
		}
	}
}
