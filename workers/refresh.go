package workers

import (
	"context"
	"log"
	"time"

	"subletsync/config"
	"subletsync/geo"
	"subletsync/services"
)

// RefreshWorker periodically reconciles the local cache with the remote
// store and keeps the configured map regions warm.
type RefreshWorker struct {
	svc       *services.SyncService
	regions   map[string]*config.RegionConfig
	triggerCh chan struct{}
}

func NewRefreshWorker(svc *services.SyncService, regions map[string]*config.RegionConfig) *RefreshWorker {
	return &RefreshWorker{
		svc:       svc,
		regions:   regions,
		triggerCh: make(chan struct{}, 1),
	}
}

// Trigger requests an immediate refresh. Non-blocking; coalesces with a
// pending trigger.
func (w *RefreshWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

func (w *RefreshWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Refresh worker stopping")
			return
		case <-ticker.C:
			w.refresh(ctx)
		case <-w.triggerCh:
			log.Println("Refresh worker triggered manually")
			w.refresh(ctx)
		}
	}
}

func (w *RefreshWorker) refresh(ctx context.Context) {
	if err := w.svc.RefreshAllListings(ctx); err != nil {
		log.Printf("Refresh: %v", err)
		return
	}

	for id, region := range w.regions {
		bounds := geo.Bounds{
			SWLat: region.LatMin,
			SWLng: region.LngMin,
			NELat: region.LatMax,
			NELng: region.LngMax,
		}
		listings, err := w.svc.RefreshListingsInBounds(ctx, bounds)
		if err != nil {
			log.Printf("Refresh region %s: %v", id, err)
			continue
		}
		log.Printf("Region %s: %d listings in bounds", id, len(listings))
	}
}
