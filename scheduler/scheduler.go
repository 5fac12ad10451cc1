package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"subletsync/config"
)

// Triggerable allows workers to be triggered manually
type Triggerable interface {
	Trigger()
}

// Scheduler drives the refresh worker on a cron expression or fixed
// interval, whichever the config provides.
type Scheduler struct {
	cfg    *config.Config
	worker Triggerable
	cron   *cron.Cron
	ticker *time.Ticker
	stopCh chan struct{}
	stop   sync.Once
}

func New(cfg *config.Config, worker Triggerable) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		worker: worker,
		cron:   cron.New(),
		stopCh: make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.Scheduler.Cron != "" {
		log.Printf("Starting scheduler with cron: %s", s.cfg.Scheduler.Cron)
		_, err := s.cron.AddFunc(s.cfg.Scheduler.Cron, s.worker.Trigger)
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
					s.worker.Trigger()
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	} else {
		log.Println("No schedule configured, refresh runs on worker interval only")
	}

	return nil
}

// Stop is idempotent; shutdown paths may call it more than once.
func (s *Scheduler) Stop() {
	s.stop.Do(func() {
		if s.cron != nil {
			s.cron.Stop()
		}
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
	})
}
