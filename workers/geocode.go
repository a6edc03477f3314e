package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auction_scraper/geocode"
	"auction_scraper/models"
	"auction_scraper/storage"
)

type Geocoder interface {
	Geocode(ctx context.Context, addr geocode.Address) (*geocode.Point, error)
}

// GeocodeWorker fills in coordinates for facilities created without them.
type GeocodeWorker struct {
	store    storage.Store
	geocoder Geocoder
	trigger  trigger
	logf     LogFunc
	// misses skips facilities the geocoder could not place, until restart.
	misses map[string]bool
}

func NewGeocodeWorker(store storage.Store, geocoder Geocoder) *GeocodeWorker {
	return &GeocodeWorker{
		store:    store,
		geocoder: geocoder,
		trigger:  newTrigger(),
		logf:     StdLogger,
		misses:   make(map[string]bool),
	}
}

func (w *GeocodeWorker) SetLogger(fn LogFunc) { w.logf = fn }

func (w *GeocodeWorker) Trigger() { w.trigger.fire() }

func (w *GeocodeWorker) processBatch(ctx context.Context, batchSize int) (located, failed int) {
	facilities, err := w.store.ListFacilitiesMissingCoords(ctx, batchSize+len(w.misses))
	if err != nil {
		w.logf(models.LogLevelError, "geocode", fmt.Sprintf("query error: %v", err))
		return 0, 0
	}

	for i := range facilities {
		f := &facilities[i]
		if w.misses[f.ID.String()] {
			continue
		}
		if located+failed >= batchSize || ctx.Err() != nil {
			break
		}

		addr := geocode.Address{City: f.City, State: f.State}
		if f.AddressLine1 != nil {
			addr.Street = *f.AddressLine1
		}
		if f.ZipCode != nil {
			addr.Zip = *f.ZipCode
		}

		p, err := w.geocoder.Geocode(ctx, addr)
		if err != nil {
			failed++
			if errors.Is(err, geocode.ErrNotFound) {
				w.misses[f.ID.String()] = true
			}
			w.logf(models.LogLevelWarn, "geocode", fmt.Sprintf("%s (%s, %s): %v", f.FacilityName, f.City, f.State, err))
			continue
		}

		if err := w.store.UpdateFacilityCoords(ctx, f.ID, p.Lat, p.Lng); err != nil {
			failed++
			w.logf(models.LogLevelError, "geocode", fmt.Sprintf("update %s: %v", f.ID, err))
			continue
		}
		located++
	}

	if located > 0 || failed > 0 {
		w.logf(models.LogLevelInfo, "geocode", fmt.Sprintf("located %d, failed %d", located, failed))
	}
	return located, failed
}

func (w *GeocodeWorker) Run(ctx context.Context, batchSize int, interval time.Duration) {
	loop(ctx, interval, w.trigger, func(ctx context.Context) {
		w.processBatch(ctx, batchSize)
	})
}
