// Package geocode resolves facility addresses to coordinates through a
// Nominatim-compatible search API.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"auction_scraper/identity"
)

// ErrNotFound is returned when the service has no match for an address.
var ErrNotFound = errors.New("address not found")

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Address struct {
	Street string
	City   string
	State  string
	Zip    string
}

func (a Address) key() string {
	return identity.AddressKey(a.Street, a.City, a.State)
}

// Cache remembers lookups, including misses (nil point).
type Cache interface {
	Get(ctx context.Context, key string) (p *Point, ok bool, err error)
	Set(ctx context.Context, key string, p *Point) error
}

type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	cache     Cache
	limiter   *limiter
}

func NewClient(baseURL, userAgent string, httpClient *http.Client, interval time.Duration, cache Cache) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		http:      httpClient,
		cache:     cache,
		limiter:   &limiter{interval: interval},
	}
}

type searchResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Geocode returns the coordinates for addr, consulting the cache first.
// Requests to the service are spaced by the client's interval.
func (c *Client) Geocode(ctx context.Context, addr Address) (*Point, error) {
	key := addr.key()
	if c.cache != nil {
		p, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("geocode cache: %w", err)
		}
		if ok {
			if p == nil {
				return nil, ErrNotFound
			}
			return p, nil
		}
	}

	p, err := c.search(ctx, addr)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if c.cache != nil {
		if cerr := c.cache.Set(ctx, key, p); cerr != nil {
			return p, fmt.Errorf("geocode cache: %w", cerr)
		}
	}
	if p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}

func (c *Client) search(ctx context.Context, addr Address) (*Point, error) {
	if err := c.limiter.wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("format", "json")
	q.Set("limit", "1")
	q.Set("countrycodes", "us")
	if addr.Street != "" {
		q.Set("street", addr.Street)
	}
	q.Set("city", addr.City)
	q.Set("state", addr.State)
	if addr.Zip != "" {
		q.Set("postalcode", addr.Zip)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocode status: %d", resp.StatusCode)
	}

	var results []searchResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("decode geocode response: %w", err)
	}
	if len(results) == 0 {
		return nil, ErrNotFound
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("bad latitude %q: %w", results[0].Lat, err)
	}
	lng, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("bad longitude %q: %w", results[0].Lon, err)
	}
	return &Point{Lat: lat, Lng: lng}, nil
}

// limiter spaces calls at least interval apart.
type limiter struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
}

func (l *limiter) wait(ctx context.Context) error {
	l.mu.Lock()
	now := time.Now()
	at := l.next
	if at.Before(now) {
		at = now
	}
	l.next = at.Add(l.interval)
	l.mu.Unlock()

	d := time.Until(at)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
