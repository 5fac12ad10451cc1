package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"subletsync/geo"
	"subletsync/models"
	"subletsync/observe"
)

// LoadingState tracks whether a full refresh is in flight.
type LoadingState string

const (
	Loading LoadingState = "LOADING"
	Loaded  LoadingState = "LOADED"
)

// RemoteStore is the durable source of truth for listings and follows.
type RemoteStore interface {
	FetchAllListings(ctx context.Context) ([]models.Listing, error)
	FetchListingsByOwner(ctx context.Context, ownerID string) ([]models.Listing, error)
	FetchListingsByGeohashRange(ctx context.Context, startHash, endHash string) ([]models.Listing, error)
	FetchListingByID(ctx context.Context, id string) (*models.Listing, error)
	PutListing(ctx context.Context, l *models.Listing) error
	DeleteListing(ctx context.Context, id string) error
	IsFollowing(ctx context.Context, followerID, followedID string) (bool, error)
	ToggleFollow(ctx context.Context, followerID, followedID string, currentlyFollowing bool) error
	WatchFollow(ctx context.Context, followerID, followedID string) (*observe.Value[bool], error)
}

// LocalStore is the on-device listing cache. Reads may be stale; writes are
// serialized by the sync service.
type LocalStore interface {
	GetAll() ([]models.Listing, error)
	GetByID(id string) (*models.Listing, error)
	Reconcile(listings []models.Listing, fetchStart int64) error
	Upsert(l *models.Listing) error
	DeleteByID(id string) error
}

// ImageDeleter removes stored images by their public URL.
type ImageDeleter interface {
	DeleteImage(ctx context.Context, publicURL string) error
}

type cacheOp struct {
	fn   func() error
	done chan error
}

// SyncService orchestrates reads and writes between the local cache and the
// remote store, and owns the geohash-bounded map query workflow. All remote
// writes are remote-first: the cache is only touched after the remote
// confirms.
type SyncService struct {
	remote RemoteStore
	local  LocalStore
	images ImageDeleter // optional

	allListings *observe.Value[[]models.Listing]
	mapListings *observe.Value[[]models.Listing]
	loading     *observe.Value[LoadingState]

	// Cache mutations run one at a time in submission order.
	cacheOps chan cacheOp
	quit     chan struct{}
	stop     sync.Once

	// Map query publishes are gated so a stale result never overwrites a
	// newer one.
	mapGen atomic.Int64
}

func NewSyncService(remote RemoteStore, local LocalStore, images ImageDeleter) *SyncService {
	s := &SyncService{
		remote:      remote,
		local:       local,
		images:      images,
		allListings: observe.NewValue[[]models.Listing](),
		mapListings: observe.NewValue[[]models.Listing](),
		loading:     observe.NewValue[LoadingState](),
		cacheOps:    make(chan cacheOp, 16),
		quit:        make(chan struct{}),
	}
	s.loading.Set(Loaded)
	go s.cacheWorker()
	return s
}

// Close stops the cache worker. In-flight mutations finish; later ones fail.
func (s *SyncService) Close() {
	s.stop.Do(func() { close(s.quit) })
}

func (s *SyncService) cacheWorker() {
	for {
		select {
		case op := <-s.cacheOps:
			op.done <- op.fn()
		case <-s.quit:
			return
		}
	}
}

var errClosed = errors.New("sync service closed")

func (s *SyncService) runCacheOp(fn func() error) error {
	op := cacheOp{fn: fn, done: make(chan error, 1)}
	select {
	case s.cacheOps <- op:
	case <-s.quit:
		return errClosed
	}
	select {
	case err := <-op.done:
		return err
	case <-s.quit:
		return errClosed
	}
}

// AllListings is the reactive full listing set, sourced from the cache.
func (s *SyncService) AllListings() *observe.Value[[]models.Listing] {
	return s.allListings
}

// MapListings holds only the last geospatially-filtered result set.
func (s *SyncService) MapListings() *observe.Value[[]models.Listing] {
	return s.mapListings
}

func (s *SyncService) LoadingState() *observe.Value[LoadingState] {
	return s.loading
}

// GetAllListings returns the current cache snapshot immediately and kicks
// off a background refresh against the remote store.
func (s *SyncService) GetAllListings(ctx context.Context) ([]models.Listing, error) {
	snapshot, err := s.local.GetAll()
	if err != nil {
		return nil, fmt.Errorf("read cache: %w", err)
	}
	s.allListings.Set(snapshot)

	go func() {
		if err := s.RefreshAllListings(ctx); err != nil {
			log.Printf("Background refresh failed: %v", err)
		}
	}()

	return snapshot, nil
}

// RefreshAllListings fetches the full remote set and merges it into the
// cache. On remote failure the cache is left untouched and stale reads
// continue to serve. The fetch-start timestamp bounds the reconcile so a
// listing written while the fetch was in flight is not dropped as stale.
func (s *SyncService) RefreshAllListings(ctx context.Context) error {
	s.loading.Set(Loading)
	defer s.loading.Set(Loaded)

	fetchStart := time.Now().UnixMilli()
	remote, err := s.remote.FetchAllListings(ctx)
	if err != nil {
		return fmt.Errorf("fetch all listings: %w", err)
	}

	err = s.runCacheOp(func() error {
		return s.local.Reconcile(remote, fetchStart)
	})
	if err != nil {
		return fmt.Errorf("reconcile cache: %w", err)
	}

	merged, err := s.local.GetAll()
	if err != nil {
		return fmt.Errorf("read cache: %w", err)
	}
	s.allListings.Set(merged)
	return nil
}

// RefreshListingsInBounds queries the remote store for listings inside a
// rectangular viewport and publishes the exact-filtered result to the map
// value. Results never touch the local cache. Rapid repeated invocations
// race at the remote layer; only the newest invocation may publish.
func (s *SyncService) RefreshListingsInBounds(ctx context.Context, bounds geo.Bounds) ([]models.Listing, error) {
	gen := s.mapGen.Add(1)

	lat, lng, radius := bounds.Circumscribe()
	ranges := geo.CoveringRanges(lat, lng, radius)

	results := make([][]models.Listing, len(ranges))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range ranges {
		i, r := i, r
		g.Go(func() error {
			listings, err := s.remote.FetchListingsByGeohashRange(gctx, r.Start, r.End)
			if err != nil {
				return fmt.Errorf("range %s: %w", r.Start, err)
			}
			results[i] = listings
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var inBounds []models.Listing
	for _, batch := range results {
		for _, l := range batch {
			if seen[l.ID] || l.Location == nil {
				continue
			}
			seen[l.ID] = true
			p := l.Location.GeoPoint
			if bounds.Contains(p.Lat, p.Lng) {
				inBounds = append(inBounds, l)
			}
		}
	}

	if s.mapGen.Load() == gen {
		s.mapListings.Set(inBounds)
	}
	return inBounds, nil
}

// GetListingsByOwner reads straight from the remote store.
func (s *SyncService) GetListingsByOwner(ctx context.Context, ownerID string) ([]models.Listing, error) {
	return s.remote.FetchListingsByOwner(ctx, ownerID)
}

// AddListing assigns an id if missing, stamps the geohash and update time,
// and persists remote-first. A remote failure leaves no local trace.
func (s *SyncService) AddListing(ctx context.Context, l *models.Listing) error {
	if l.ID == "" {
		l.ID = models.NewListingID()
	}
	return s.putListing(ctx, l)
}

// UpdateListing overwrites the full remote document, then the cache entry.
func (s *SyncService) UpdateListing(ctx context.Context, l *models.Listing) error {
	if l.ID == "" {
		return errors.New("update requires a listing id")
	}
	return s.putListing(ctx, l)
}

func (s *SyncService) putListing(ctx context.Context, l *models.Listing) error {
	if l.Location != nil {
		p := l.Location.GeoPoint
		l.Location.Geohash = geo.Encode(p.Lat, p.Lng, geo.EncodePrecision)
	}
	l.Touch()

	if err := s.remote.PutListing(ctx, l); err != nil {
		return fmt.Errorf("remote write: %w", err)
	}
	if err := s.runCacheOp(func() error { return s.local.Upsert(l) }); err != nil {
		return fmt.Errorf("cache upsert: %w", err)
	}
	return nil
}

// DeleteListing removes the listing remote-first, then from the cache, then
// best-effort deletes its stored images. Image cleanup failures are logged,
// never returned: the listing is already gone.
func (s *SyncService) DeleteListing(ctx context.Context, id string) error {
	existing, err := s.remote.FetchListingByID(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch listing: %w", err)
	}

	if err := s.remote.DeleteListing(ctx, id); err != nil {
		return fmt.Errorf("remote delete: %w", err)
	}
	if err := s.runCacheOp(func() error { return s.local.DeleteByID(id) }); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}

	if existing != nil && s.images != nil {
		for _, url := range existing.ImageURLs {
			if err := s.images.DeleteImage(ctx, url); err != nil {
				log.Printf("Orphaned image %s: %v", url, err)
			}
		}
	}
	return nil
}

// ToggleFollow flips the follow edge between two users atomically.
func (s *SyncService) ToggleFollow(ctx context.Context, currentUserID, targetUserID string, currentlyFollowing bool) error {
	return s.remote.ToggleFollow(ctx, currentUserID, targetUserID, currentlyFollowing)
}

// CheckIfFollowing returns a live boolean tracking the follow edge.
func (s *SyncService) CheckIfFollowing(ctx context.Context, currentUserID, targetUserID string) (*observe.Value[bool], error) {
	return s.remote.WatchFollow(ctx, currentUserID, targetUserID)
}
