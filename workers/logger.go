package workers

import (
	"context"
	"log"
	"time"

	"auction_scraper/models"
)

// LogFunc receives worker progress lines.
type LogFunc func(level models.LogLevel, worker, message string)

// StdLogger writes through the standard logger in the orchestrator's format.
var StdLogger LogFunc = func(level models.LogLevel, worker, message string) {
	log.Printf("[%s] %s: %s", level, worker, message)
}

// NoOpLogger does nothing
var NoOpLogger LogFunc = func(level models.LogLevel, worker, message string) {}

// trigger lets a worker run a pass ahead of its ticker.
type trigger chan struct{}

func newTrigger() trigger { return make(trigger, 1) }

func (t trigger) fire() {
	select {
	case t <- struct{}{}:
	default:
	}
}

// loop calls pass on every tick and trigger until ctx is done.
func loop(ctx context.Context, interval time.Duration, t trigger, pass func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pass(ctx)
		case <-t:
			pass(ctx)
		}
	}
}
