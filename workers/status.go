package workers

import (
	"context"
	"fmt"
	"time"

	"auction_scraper/models"
	"auction_scraper/storage"
)

// StatusWorker closes auctions whose closing time has passed, so status
// stays current for providers that stop listing finished units.
type StatusWorker struct {
	store   storage.Store
	now     func() time.Time
	trigger trigger
	logf    LogFunc
}

func NewStatusWorker(store storage.Store) *StatusWorker {
	return &StatusWorker{store: store, now: time.Now, trigger: newTrigger(), logf: StdLogger}
}

func (w *StatusWorker) SetLogger(fn LogFunc) { w.logf = fn }

func (w *StatusWorker) Trigger() { w.trigger.fire() }

// RunOnce closes every expired active auction and returns how many changed.
func (w *StatusWorker) RunOnce(ctx context.Context) (int64, error) {
	n, err := w.store.CloseExpiredAuctions(ctx, w.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		w.logf(models.LogLevelInfo, "status", fmt.Sprintf("closed %d expired auctions", n))
	}
	return n, nil
}

func (w *StatusWorker) Run(ctx context.Context, interval time.Duration) {
	loop(ctx, interval, w.trigger, func(ctx context.Context) {
		if _, err := w.RunOnce(ctx); err != nil {
			w.logf(models.LogLevelError, "status", err.Error())
		}
	})
}
