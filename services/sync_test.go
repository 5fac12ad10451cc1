package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"subletsync/geo"
	"subletsync/models"
	"subletsync/observe"
	"subletsync/storage"
)

type fakeRemote struct {
	mu       sync.Mutex
	listings map[string]models.Listing
	follows  map[string]bool

	failFetch bool
	failPut   bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		listings: make(map[string]models.Listing),
		follows:  make(map[string]bool),
	}
}

func (f *fakeRemote) FetchAllListings(ctx context.Context) ([]models.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFetch {
		return nil, errors.New("remote down")
	}
	var out []models.Listing
	for _, l := range f.listings {
		out = append(out, l)
	}
	return out, nil
}

func (f *fakeRemote) FetchListingsByOwner(ctx context.Context, ownerID string) ([]models.Listing, error) {
	all, err := f.FetchAllListings(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.Listing
	for _, l := range all {
		if l.OwnerID == ownerID {
			out = append(out, l)
		}
	}
	return out, nil
}

// Range queries deliberately over-return the full set so the service's
// dedupe and exact containment filter carry the result.
func (f *fakeRemote) FetchListingsByGeohashRange(ctx context.Context, startHash, endHash string) ([]models.Listing, error) {
	return f.FetchAllListings(ctx)
}

func (f *fakeRemote) FetchListingByID(ctx context.Context, id string) (*models.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.listings[id]; ok {
		return &l, nil
	}
	return nil, nil
}

func (f *fakeRemote) PutListing(ctx context.Context, l *models.Listing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPut {
		return errors.New("permission denied")
	}
	f.listings[l.ID] = *l
	return nil
}

func (f *fakeRemote) DeleteListing(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.listings, id)
	return nil
}

func (f *fakeRemote) IsFollowing(ctx context.Context, followerID, followedID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.follows[models.FollowID(followerID, followedID)], nil
}

func (f *fakeRemote) ToggleFollow(ctx context.Context, followerID, followedID string, currentlyFollowing bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := models.FollowID(followerID, followedID)
	if currentlyFollowing {
		delete(f.follows, id)
	} else {
		f.follows[id] = true
	}
	return nil
}

func (f *fakeRemote) WatchFollow(ctx context.Context, followerID, followedID string) (*observe.Value[bool], error) {
	following, _ := f.IsFollowing(ctx, followerID, followedID)
	v := observe.NewValue[bool]()
	v.Set(following)
	return v, nil
}

type fakeImages struct {
	mu      sync.Mutex
	deleted []string
}

func (f *fakeImages) DeleteImage(ctx context.Context, publicURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, publicURL)
	return nil
}

func newTestService(t *testing.T, remote RemoteStore, images ImageDeleter) (*SyncService, *storage.SQLiteStore) {
	t.Helper()
	local, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { local.Close() })

	svc := NewSyncService(remote, local, images)
	t.Cleanup(svc.Close)
	return svc, local
}

func remoteListing(id string, lat, lng float64) *models.Listing {
	return &models.Listing{
		ID:    id,
		Title: "Listing " + id,
		Price: 100,
		Location: &models.LocationData{
			GeoPoint: models.GeoPoint{Lat: lat, Lng: lng},
		},
	}
}

func TestRefreshAllListingsPopulatesCache(t *testing.T) {
	remote := newFakeRemote()
	svc, local := newTestService(t, remote, nil)

	ctx := context.Background()
	if err := svc.AddListing(ctx, remoteListing("a", 52.5, 13.4)); err != nil {
		t.Fatalf("AddListing: %v", err)
	}
	if err := svc.AddListing(ctx, remoteListing("b", 48.8, 2.3)); err != nil {
		t.Fatalf("AddListing: %v", err)
	}

	if err := svc.RefreshAllListings(ctx); err != nil {
		t.Fatalf("RefreshAllListings: %v", err)
	}

	cached, err := local.GetAll()
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(cached) != 2 {
		t.Fatalf("cache has %d listings, want 2", len(cached))
	}
	if svc.LoadingState().Get() != Loaded {
		t.Fatalf("loading state = %v after refresh", svc.LoadingState().Get())
	}
}

func TestRefreshFailureLeavesCacheUntouched(t *testing.T) {
	remote := newFakeRemote()
	svc, local := newTestService(t, remote, nil)
	ctx := context.Background()

	if err := svc.AddListing(ctx, remoteListing("a", 52.5, 13.4)); err != nil {
		t.Fatalf("AddListing: %v", err)
	}

	remote.mu.Lock()
	remote.failFetch = true
	remote.mu.Unlock()

	if err := svc.RefreshAllListings(ctx); err == nil {
		t.Fatal("expected refresh error")
	}

	cached, err := local.GetAll()
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(cached) != 1 || cached[0].ID != "a" {
		t.Fatalf("stale cache must survive failure, got %v", cached)
	}
	if svc.LoadingState().Get() != Loaded {
		t.Fatal("loading state must settle back to LOADED on failure")
	}
}

func TestRefreshIdempotent(t *testing.T) {
	remote := newFakeRemote()
	svc, local := newTestService(t, remote, nil)
	ctx := context.Background()

	if err := svc.AddListing(ctx, remoteListing("a", 52.5, 13.4)); err != nil {
		t.Fatalf("AddListing: %v", err)
	}

	if err := svc.RefreshAllListings(ctx); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	first, _ := local.GetAll()
	if err := svc.RefreshAllListings(ctx); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	second, _ := local.GetAll()

	if len(first) != len(second) {
		t.Fatalf("refresh not idempotent: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID || first[i].LastUpdated != second[i].LastUpdated {
			t.Fatalf("listing %d differs between refreshes", i)
		}
	}
}

// gatedRemote captures the snapshot when the fetch begins, then holds the
// call open until released, so a write can land mid-fetch.
type gatedRemote struct {
	*fakeRemote
	entered chan struct{}
	release chan struct{}
}

func (g *gatedRemote) FetchAllListings(ctx context.Context) ([]models.Listing, error) {
	snapshot, err := g.fakeRemote.FetchAllListings(ctx)
	close(g.entered)
	<-g.release
	return snapshot, err
}

func TestRefreshKeepsListingAddedDuringFetch(t *testing.T) {
	remote := &gatedRemote{
		fakeRemote: newFakeRemote(),
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	svc, local := newTestService(t, remote, nil)
	ctx := context.Background()

	if err := svc.AddListing(ctx, remoteListing("a", 52.5, 13.4)); err != nil {
		t.Fatalf("AddListing: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- svc.RefreshAllListings(ctx) }()
	<-remote.entered

	// Lands after the snapshot was taken; absent from it.
	if err := svc.AddListing(ctx, remoteListing("x", 52.51, 13.41)); err != nil {
		t.Fatalf("AddListing during fetch: %v", err)
	}

	close(remote.release)
	if err := <-done; err != nil {
		t.Fatalf("RefreshAllListings: %v", err)
	}

	kept, err := local.GetByID("x")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if kept == nil {
		t.Fatal("listing added during the fetch was dropped by the reconcile")
	}
	if old, _ := local.GetByID("a"); old == nil {
		t.Fatal("snapshot listing missing from cache")
	}
}

func TestAddListingRemoteFailureLeavesNoLocalTrace(t *testing.T) {
	remote := newFakeRemote()
	remote.failPut = true
	svc, local := newTestService(t, remote, nil)

	l := remoteListing("new", 52.5, 13.4)
	if err := svc.AddListing(context.Background(), l); err == nil {
		t.Fatal("expected remote write error")
	}

	cached, err := local.GetByID("new")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if cached != nil {
		t.Fatal("listing must not reach the cache when the remote write fails")
	}
}

func TestPutRecomputesGeohash(t *testing.T) {
	remote := newFakeRemote()
	svc, local := newTestService(t, remote, nil)
	ctx := context.Background()

	l := remoteListing("geo", 57.64911, 10.40744)
	l.Location.Geohash = "stalehash"
	if err := svc.AddListing(ctx, l); err != nil {
		t.Fatalf("AddListing: %v", err)
	}

	want := geo.Encode(57.64911, 10.40744, geo.EncodePrecision)
	stored, _ := remote.FetchListingByID(ctx, "geo")
	if stored.Location.Geohash != want {
		t.Fatalf("remote geohash = %q, want %q", stored.Location.Geohash, want)
	}
	cached, _ := local.GetByID("geo")
	if cached.Location.Geohash != want {
		t.Fatalf("cached geohash = %q, want %q", cached.Location.Geohash, want)
	}
}

func TestRefreshListingsInBoundsFiltersAndDedupes(t *testing.T) {
	remote := newFakeRemote()
	svc, _ := newTestService(t, remote, nil)
	ctx := context.Background()

	inside1 := remoteListing("in1", 52.50, 13.40)
	inside2 := remoteListing("in2", 52.52, 13.42)
	outside := remoteListing("out", 52.70, 13.40)
	for _, l := range []*models.Listing{inside1, inside2, outside} {
		if err := svc.AddListing(ctx, l); err != nil {
			t.Fatalf("AddListing: %v", err)
		}
	}

	bounds := geo.Bounds{SWLat: 52.45, SWLng: 13.30, NELat: 52.60, NELng: 13.50}
	got, err := svc.RefreshListingsInBounds(ctx, bounds)
	if err != nil {
		t.Fatalf("RefreshListingsInBounds: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("got %d listings in bounds, want 2", len(got))
	}
	ids := map[string]bool{}
	for _, l := range got {
		if ids[l.ID] {
			t.Fatalf("duplicate id %s in result", l.ID)
		}
		ids[l.ID] = true
	}
	if !ids["in1"] || !ids["in2"] {
		t.Fatalf("missing in-bounds listings: %v", ids)
	}

	published := svc.MapListings().Get()
	if len(published) != 2 {
		t.Fatalf("map value holds %d listings, want 2", len(published))
	}
}

func TestDeleteListingCleansUpImages(t *testing.T) {
	remote := newFakeRemote()
	images := &fakeImages{}
	svc, local := newTestService(t, remote, images)
	ctx := context.Background()

	l := remoteListing("del", 52.5, 13.4)
	l.ImageURLs = []string{"https://cdn.example.com/images/one.jpg", "https://cdn.example.com/images/two.jpg"}
	if err := svc.AddListing(ctx, l); err != nil {
		t.Fatalf("AddListing: %v", err)
	}

	if err := svc.DeleteListing(ctx, "del"); err != nil {
		t.Fatalf("DeleteListing: %v", err)
	}

	if remaining, _ := remote.FetchListingByID(ctx, "del"); remaining != nil {
		t.Fatal("listing still present remotely")
	}
	if cached, _ := local.GetByID("del"); cached != nil {
		t.Fatal("listing still present in cache")
	}

	images.mu.Lock()
	defer images.mu.Unlock()
	if len(images.deleted) != 2 {
		t.Fatalf("deleted %d images, want 2", len(images.deleted))
	}
}

func TestToggleFollowFlipsEdge(t *testing.T) {
	remote := newFakeRemote()
	svc, _ := newTestService(t, remote, nil)
	ctx := context.Background()

	if err := svc.ToggleFollow(ctx, "A", "B", false); err != nil {
		t.Fatalf("ToggleFollow: %v", err)
	}
	watch, err := svc.CheckIfFollowing(ctx, "A", "B")
	if err != nil {
		t.Fatalf("CheckIfFollowing: %v", err)
	}
	if !watch.Get() {
		t.Fatal("expected follow edge after toggle")
	}

	if err := svc.ToggleFollow(ctx, "A", "B", true); err != nil {
		t.Fatalf("ToggleFollow: %v", err)
	}
	following, err := remote.IsFollowing(ctx, "A", "B")
	if err != nil {
		t.Fatalf("IsFollowing: %v", err)
	}
	if following {
		t.Fatal("expected edge removed after second toggle")
	}
}
