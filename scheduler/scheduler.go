package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"auction_scraper/config"
	"auction_scraper/models"
	"auction_scraper/scraper"
	"auction_scraper/storage"

	"github.com/robfig/cron/v3"
)

// Triggerable allows workers to be triggered manually
type Triggerable interface {
	Trigger()
}

type Scheduler struct {
	cfg          *config.Config
	orchestrator *scraper.Orchestrator
	store        storage.Store
	cron         *cron.Cron
	ticker       *time.Ticker
	stopCh       chan struct{}
	pollEvery    time.Duration

	mediaWorker   Triggerable
	geocodeWorker Triggerable
	statusWorker  Triggerable
}

func New(cfg *config.Config, orchestrator *scraper.Orchestrator, store storage.Store) *Scheduler {
	return &Scheduler{
		cfg:          cfg,
		orchestrator: orchestrator,
		store:        store,
		cron:         cron.New(),
		stopCh:       make(chan struct{}),
		pollEvery:    2 * time.Second,
	}
}

// SetWorkers registers background workers for manual triggering
func (s *Scheduler) SetWorkers(media, geocode, status Triggerable) {
	s.mediaWorker = media
	s.geocodeWorker = geocode
	s.statusWorker = status
}

func (s *Scheduler) Start(ctx context.Context) error {
	go s.pollCommands(ctx)

	if s.cfg.Scheduler.Cron != "" {
		log.Printf("Starting scheduler with cron: %s", s.cfg.Scheduler.Cron)
		_, err := s.cron.AddFunc(s.cfg.Scheduler.Cron, func() {
			s.runDue(ctx)
		})
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
	} else if s.cfg.Scheduler.Interval > 0 {
		log.Printf("Starting scheduler with interval: %s", s.cfg.Scheduler.Interval)
		s.ticker = time.NewTicker(s.cfg.Scheduler.Interval)
		go func() {
			for {
				select {
				case <-s.ticker.C:
					s.runDue(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	} else {
		log.Println("No schedule configured, daemon will only respond to commands")
	}

	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
}

func (s *Scheduler) runDue(ctx context.Context) {
	summaries, err := s.orchestrator.RunDue(ctx)
	if err != nil {
		log.Printf("Scheduled run error: %v", err)
		return
	}
	for _, sum := range summaries {
		log.Printf("Scheduled run %s: %s (%d added, %d updated, %d errors)",
			sum.ProviderID, sum.Status, sum.AuctionsAdded, sum.AuctionsUpdated, len(sum.Errors))
	}
	if s.statusWorker != nil && len(summaries) > 0 {
		s.statusWorker.Trigger()
	}
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processCommands(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) processCommands(ctx context.Context) {
	cmds, err := s.store.GetPendingCommands(ctx)
	if err != nil {
		log.Printf("Error getting commands: %v", err)
		return
	}

	for _, cmd := range cmds {
		log.Printf("Processing command: %s", cmd.Command)
		if err := s.handleCommand(ctx, &cmd); err != nil {
			log.Printf("Command error: %v", err)
		}
		if err := s.store.MarkCommandProcessed(ctx, cmd.ID); err != nil {
			log.Printf("Error marking command processed: %v", err)
		}
	}
}

func (s *Scheduler) handleCommand(ctx context.Context, cmd *models.Command) error {
	switch cmd.Command {
	case models.CmdRunMedia:
		return trigger(s.mediaWorker, "Media")
	case models.CmdRunGeocode:
		return trigger(s.geocodeWorker, "Geocode")
	case models.CmdCloseExpired:
		return trigger(s.statusWorker, "Status")
	default:
		return s.orchestrator.HandleCommand(ctx, cmd)
	}
}

func trigger(w Triggerable, name string) error {
	if w == nil {
		return fmt.Errorf("%s worker is not running", name)
	}
	w.Trigger()
	log.Printf("%s worker triggered via command", name)
	return nil
}
