package httputil

import (
	"net/http"
	"net/url"
	"time"

	"auction_scraper/config"
)

type Clients struct {
	Scraping *http.Client // proxied when PROXY_URL is set, for provider sites
	API      *http.Client // direct, for the geocoder
	Media    *http.Client // long timeout, for image downloads
}

func NewClients(proxyCfg *config.ProxyConfig) *Clients {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyCfg != nil && proxyCfg.URL != "" {
		if proxyURL, err := url.Parse(proxyCfg.URL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	return &Clients{
		Scraping: &http.Client{Timeout: 30 * time.Second, Transport: transport},
		API:      &http.Client{Timeout: 30 * time.Second},
		Media:    &http.Client{Timeout: 60 * time.Second, Transport: transport},
	}
}
