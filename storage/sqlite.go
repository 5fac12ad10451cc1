package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"subletsync/models"
)

// SQLiteStore is the local listing cache: always available, replaced or
// reconciled from remote truth, read synchronously by the sync layer.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS listings (
		id TEXT PRIMARY KEY,
		title TEXT,
		price INTEGER,
		description TEXT,
		image_urls JSON,
		owner_id TEXT,
		location_name TEXT,
		lat REAL,
		lng REAL,
		geohash TEXT,
		bedrooms INTEGER,
		bathrooms INTEGER,
		start_date TEXT,
		end_date TEXT,
		amenities JSON,
		last_updated INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_listings_updated ON listings(last_updated);
	CREATE INDEX IF NOT EXISTS idx_listings_owner ON listings(owner_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

const listingColumns = `id, title, price, description, image_urls, owner_id, location_name,
		lat, lng, geohash, bedrooms, bathrooms, start_date, end_date, amenities, last_updated`

// GetAll returns every cached listing ordered by last-updated descending.
func (s *SQLiteStore) GetAll() ([]models.Listing, error) {
	rows, err := s.db.Query(`
		SELECT ` + listingColumns + `
		FROM listings ORDER BY last_updated DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

func (s *SQLiteStore) GetByID(id string) (*models.Listing, error) {
	row := s.db.QueryRow(`
		SELECT `+listingColumns+`
		FROM listings WHERE id = ?`, id)

	l, err := scanListing(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

// ReplaceAll atomically clears the cache and rewrites the full set.
func (s *SQLiteStore) ReplaceAll(listings []models.Listing) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM listings`); err != nil {
		return err
	}
	for i := range listings {
		if err := upsertListingTx(tx, &listings[i]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Reconcile merges a full remote snapshot into the cache: for each id the
// newer of (cached, fetched) wins by last-updated. Cached rows absent from
// the snapshot are removed only when they predate fetchStart (epoch ms, the
// moment the snapshot fetch began) — a row upserted while the fetch was in
// flight is newer than the snapshot and survives until the next refresh
// confirms it.
func (s *SQLiteStore) Reconcile(listings []models.Listing, fetchStart int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	seen := make(map[string]bool, len(listings))
	for i := range listings {
		l := &listings[i]
		seen[l.ID] = true

		var cachedUpdated int64
		err := tx.QueryRow(`SELECT last_updated FROM listings WHERE id = ?`, l.ID).Scan(&cachedUpdated)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		if err == nil && cachedUpdated > l.LastUpdated {
			continue
		}
		if err := upsertListingTx(tx, l); err != nil {
			return err
		}
	}

	rows, err := tx.Query(`SELECT id, last_updated FROM listings`)
	if err != nil {
		return err
	}
	var stale []string
	for rows.Next() {
		var id string
		var updated int64
		if err := rows.Scan(&id, &updated); err != nil {
			rows.Close()
			return err
		}
		if !seen[id] && updated < fetchStart {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range stale {
		if _, err := tx.Exec(`DELETE FROM listings WHERE id = ?`, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Upsert inserts or replaces a single listing by id.
func (s *SQLiteStore) Upsert(l *models.Listing) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := upsertListingTx(tx, l); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeleteByID(id string) error {
	_, err := s.db.Exec(`DELETE FROM listings WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) DeleteAll() error {
	_, err := s.db.Exec(`DELETE FROM listings`)
	return err
}

func upsertListingTx(tx *sql.Tx, l *models.Listing) error {
	imageURLs, err := json.Marshal(l.ImageURLs)
	if err != nil {
		return fmt.Errorf("marshal image urls: %w", err)
	}
	amenities, err := json.Marshal(l.Amenities)
	if err != nil {
		return fmt.Errorf("marshal amenities: %w", err)
	}

	var lat, lng sql.NullFloat64
	var geohash sql.NullString
	if l.Location != nil {
		lat = sql.NullFloat64{Float64: l.Location.GeoPoint.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: l.Location.GeoPoint.Lng, Valid: true}
		geohash = sql.NullString{String: l.Location.Geohash, Valid: true}
	}

	_, err = tx.Exec(`
		INSERT INTO listings (id, title, price, description, image_urls, owner_id, location_name,
			lat, lng, geohash, bedrooms, bathrooms, start_date, end_date, amenities, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			price = excluded.price,
			description = excluded.description,
			image_urls = excluded.image_urls,
			owner_id = excluded.owner_id,
			location_name = excluded.location_name,
			lat = excluded.lat,
			lng = excluded.lng,
			geohash = excluded.geohash,
			bedrooms = excluded.bedrooms,
			bathrooms = excluded.bathrooms,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			amenities = excluded.amenities,
			last_updated = excluded.last_updated`,
		l.ID, l.Title, l.Price, l.Description, string(imageURLs), l.OwnerID, l.LocationName,
		lat, lng, geohash, l.Bedrooms, l.Bathrooms, l.StartDate, l.EndDate, string(amenities), l.LastUpdated)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanListing(row rowScanner) (*models.Listing, error) {
	var l models.Listing
	var imageURLs, amenities string
	var lat, lng sql.NullFloat64
	var geohash sql.NullString

	err := row.Scan(&l.ID, &l.Title, &l.Price, &l.Description, &imageURLs, &l.OwnerID, &l.LocationName,
		&lat, &lng, &geohash, &l.Bedrooms, &l.Bathrooms, &l.StartDate, &l.EndDate, &amenities, &l.LastUpdated)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(imageURLs), &l.ImageURLs); err != nil {
		return nil, fmt.Errorf("unmarshal image urls: %w", err)
	}
	if err := json.Unmarshal([]byte(amenities), &l.Amenities); err != nil {
		return nil, fmt.Errorf("unmarshal amenities: %w", err)
	}

	if lat.Valid && lng.Valid {
		l.Location = &models.LocationData{
			GeoPoint: models.GeoPoint{Lat: lat.Float64, Lng: lng.Float64},
			Geohash:  geohash.String,
		}
	}
	return &l, nil
}
