package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"auction_scraper/models"
)

var (
	streetReplacements = map[string]string{
		"street":    "st",
		"avenue":    "ave",
		"drive":     "dr",
		"road":      "rd",
		"boulevard": "blvd",
		"lane":      "ln",
		"court":     "ct",
		"place":     "pl",
		"circle":    "cir",
		"highway":   "hwy",
		"parkway":   "pkwy",
		"north":     "n",
		"south":     "s",
		"east":      "e",
		"west":      "w",
		"suite":     "ste",
	}
	wordRegex       = regexp.MustCompile(`[a-z0-9]+`)
	nonAlnumRegex   = regexp.MustCompile(`[^a-z0-9\s]`)
	multiSpaceRegex = regexp.MustCompile(`\s+`)
)

// FacilityFingerprint hashes the exact facility natural key. No
// normalization is applied: two keys share a fingerprint only if every
// component is byte-identical.
func FacilityFingerprint(key models.FacilityKey) string {
	h := sha256.New()
	for _, part := range []string{key.ProviderID.String(), key.FacilityName, key.City, key.State} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// NormalizeAddress lower-cases, strips punctuation and abbreviates common
// street words, for cache keys and geocoder queries.
func NormalizeAddress(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	addr = nonAlnumRegex.ReplaceAllString(addr, " ")
	addr = wordRegex.ReplaceAllStringFunc(addr, func(w string) string {
		if abbrev, ok := streetReplacements[w]; ok {
			return abbrev
		}
		return w
	})
	addr = multiSpaceRegex.ReplaceAllString(addr, " ")
	return strings.TrimSpace(addr)
}

// LocationKey is the geocode cache key for a city/state pair, e.g. "sacramento,ca".
func LocationKey(city, state string) string {
	return NormalizeAddress(city) + "," + strings.ToLower(strings.TrimSpace(state))
}

// AddressKey is the geocode cache key for a street-level address.
func AddressKey(street, city, state string) string {
	if strings.TrimSpace(street) == "" {
		return LocationKey(city, state)
	}
	return NormalizeAddress(street) + "|" + LocationKey(city, state)
}
