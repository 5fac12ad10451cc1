package storage

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"subletsync/models"
	"subletsync/observe"
)

// followChannel is the notification channel the follow transaction posts
// to; watchers re-check edge existence when their edge id arrives.
const followChannel = "follow_changes"

// PostgresStore is the remote source of truth: the listings collection,
// user profiles and follow edges. No operation retries; callers decide.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS listings (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		price INTEGER NOT NULL DEFAULT 0,
		description TEXT NOT NULL DEFAULT '',
		image_urls TEXT[] NOT NULL DEFAULT '{}',
		owner_id TEXT NOT NULL DEFAULT '',
		location_name TEXT NOT NULL DEFAULT '',
		lat DOUBLE PRECISION,
		lng DOUBLE PRECISION,
		geohash TEXT,
		bedrooms INTEGER NOT NULL DEFAULT 0,
		bathrooms INTEGER NOT NULL DEFAULT 0,
		start_date TEXT NOT NULL DEFAULT '',
		end_date TEXT NOT NULL DEFAULT '',
		amenities TEXT[] NOT NULL DEFAULT '{}',
		last_updated BIGINT NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		avatar_url TEXT NOT NULL DEFAULT '',
		bio TEXT NOT NULL DEFAULT '',
		followers_count INTEGER NOT NULL DEFAULT 0,
		following_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS follows (
		id TEXT PRIMARY KEY,
		follower_id TEXT NOT NULL,
		followed_id TEXT NOT NULL,
		ts BIGINT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_listings_geohash ON listings(geohash);
	CREATE INDEX IF NOT EXISTS idx_listings_owner ON listings(owner_id);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// =============================================================================
// Listings
// =============================================================================

const remoteListingColumns = `id, title, price, description, image_urls, owner_id, location_name,
		lat, lng, COALESCE(geohash, ''), bedrooms, bathrooms, start_date, end_date, amenities, last_updated`

func (s *PostgresStore) FetchAllListings(ctx context.Context) ([]models.Listing, error) {
	return s.queryListings(ctx, `SELECT `+remoteListingColumns+` FROM listings`)
}

func (s *PostgresStore) FetchListingsByOwner(ctx context.Context, ownerID string) ([]models.Listing, error) {
	return s.queryListings(ctx, `
		SELECT `+remoteListingColumns+` FROM listings WHERE owner_id = $1
		ORDER BY last_updated DESC`, ownerID)
}

// FetchListingsByGeohashRange returns listings whose geohash lies in the
// inclusive lexical range [startHash, endHash].
func (s *PostgresStore) FetchListingsByGeohashRange(ctx context.Context, startHash, endHash string) ([]models.Listing, error) {
	return s.queryListings(ctx, `
		SELECT `+remoteListingColumns+` FROM listings
		WHERE geohash >= $1 AND geohash <= $2
		ORDER BY geohash`, startHash, endHash)
}

func (s *PostgresStore) FetchListingByID(ctx context.Context, id string) (*models.Listing, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+remoteListingColumns+` FROM listings WHERE id = $1`, id)

	l, err := scanRemoteListing(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

// PutListing overwrites the full document; it is not a partial patch.
func (s *PostgresStore) PutListing(ctx context.Context, l *models.Listing) error {
	var lat, lng *float64
	var geohash *string
	if l.Location != nil {
		lat = &l.Location.GeoPoint.Lat
		lng = &l.Location.GeoPoint.Lng
		geohash = &l.Location.Geohash
	}

	imageURLs := l.ImageURLs
	if imageURLs == nil {
		imageURLs = []string{}
	}
	amenities := l.Amenities
	if amenities == nil {
		amenities = []string{}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO listings (id, title, price, description, image_urls, owner_id, location_name,
			lat, lng, geohash, bedrooms, bathrooms, start_date, end_date, amenities, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			price = EXCLUDED.price,
			description = EXCLUDED.description,
			image_urls = EXCLUDED.image_urls,
			owner_id = EXCLUDED.owner_id,
			location_name = EXCLUDED.location_name,
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			geohash = EXCLUDED.geohash,
			bedrooms = EXCLUDED.bedrooms,
			bathrooms = EXCLUDED.bathrooms,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			amenities = EXCLUDED.amenities,
			last_updated = EXCLUDED.last_updated`,
		l.ID, l.Title, l.Price, l.Description, imageURLs, l.OwnerID, l.LocationName,
		lat, lng, geohash, l.Bedrooms, l.Bathrooms, l.StartDate, l.EndDate, amenities, l.LastUpdated)
	return err
}

func (s *PostgresStore) DeleteListing(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM listings WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) queryListings(ctx context.Context, query string, args ...interface{}) ([]models.Listing, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		l, err := scanRemoteListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

func scanRemoteListing(row pgx.Row) (*models.Listing, error) {
	var l models.Listing
	var lat, lng *float64
	var geohash string

	err := row.Scan(&l.ID, &l.Title, &l.Price, &l.Description, &l.ImageURLs, &l.OwnerID, &l.LocationName,
		&lat, &lng, &geohash, &l.Bedrooms, &l.Bathrooms, &l.StartDate, &l.EndDate, &l.Amenities, &l.LastUpdated)
	if err != nil {
		return nil, err
	}

	if lat != nil && lng != nil {
		l.Location = &models.LocationData{
			GeoPoint: models.GeoPoint{Lat: *lat, Lng: *lng},
			Geohash:  geohash,
		}
	}
	return &l, nil
}

// =============================================================================
// Users
// =============================================================================

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, email, avatar_url, bio, followers_count, following_count
		FROM users WHERE id = $1`, id).Scan(
		&u.ID, &u.Name, &u.Email, &u.AvatarURL, &u.Bio, &u.FollowersCount, &u.FollowingCount)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) UpsertUser(ctx context.Context, u *models.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, name, email, avatar_url, bio, followers_count, following_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			avatar_url = EXCLUDED.avatar_url,
			bio = EXCLUDED.bio`,
		u.ID, u.Name, u.Email, u.AvatarURL, u.Bio, u.FollowersCount, u.FollowingCount)
	return err
}

func (s *PostgresStore) UpdateUserBio(ctx context.Context, id, bio string) error {
	_, err := s.pool.Exec(ctx, `UPDATE users SET bio = $2 WHERE id = $1`, id, bio)
	return err
}

func (s *PostgresStore) UpdateUserAvatar(ctx context.Context, id, avatarURL string) error {
	_, err := s.pool.Exec(ctx, `UPDATE users SET avatar_url = $2 WHERE id = $1`, id, avatarURL)
	return err
}

// =============================================================================
// Follows
// =============================================================================

func (s *PostgresStore) IsFollowing(ctx context.Context, followerID, followedID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM follows WHERE id = $1)`,
		models.FollowID(followerID, followedID)).Scan(&exists)
	return exists, err
}

// ToggleFollow creates or removes the follow edge and adjusts both
// denormalized counters in a single transaction. The counters are never
// observable without the corresponding edge mutation.
func (s *PostgresStore) ToggleFollow(ctx context.Context, followerID, followedID string, currentlyFollowing bool) error {
	id := models.FollowID(followerID, followedID)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if currentlyFollowing {
		tag, err := tx.Exec(ctx, `DELETE FROM follows WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete edge: %w", err)
		}
		if tag.RowsAffected() > 0 {
			if _, err := tx.Exec(ctx,
				`UPDATE users SET following_count = following_count - 1 WHERE id = $1`, followerID); err != nil {
				return fmt.Errorf("decrement following: %w", err)
			}
			if _, err := tx.Exec(ctx,
				`UPDATE users SET followers_count = followers_count - 1 WHERE id = $1`, followedID); err != nil {
				return fmt.Errorf("decrement followers: %w", err)
			}
		}
	} else {
		edge := models.Follow{
			ID:         id,
			FollowerID: followerID,
			FollowedID: followedID,
			Timestamp:  time.Now().UnixMilli(),
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO follows (id, follower_id, followed_id, ts)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO NOTHING`,
			edge.ID, edge.FollowerID, edge.FollowedID, edge.Timestamp)
		if err != nil {
			return fmt.Errorf("insert edge: %w", err)
		}
		if tag.RowsAffected() > 0 {
			if _, err := tx.Exec(ctx,
				`UPDATE users SET following_count = following_count + 1 WHERE id = $1`, followerID); err != nil {
				return fmt.Errorf("increment following: %w", err)
			}
			if _, err := tx.Exec(ctx,
				`UPDATE users SET followers_count = followers_count + 1 WHERE id = $1`, followedID); err != nil {
				return fmt.Errorf("increment followers: %w", err)
			}
		}
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, followChannel, id); err != nil {
		return fmt.Errorf("notify: %w", err)
	}

	return tx.Commit(ctx)
}

// WatchFollow returns a live boolean for the existence of the follow edge.
// The watch holds a dedicated connection listening for follow notifications
// and ends when ctx is canceled.
func (s *PostgresStore) WatchFollow(ctx context.Context, followerID, followedID string) (*observe.Value[bool], error) {
	id := models.FollowID(followerID, followedID)

	following, err := s.IsFollowing(ctx, followerID, followedID)
	if err != nil {
		return nil, err
	}

	value := observe.NewValue[bool]()
	value.Set(following)

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen conn: %w", err)
	}
	if _, err := conn.Exec(ctx, `LISTEN `+followChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen: %w", err)
	}

	go func() {
		defer conn.Release()
		for {
			notification, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("Follow watch %s: %v", id, err)
				}
				return
			}
			if notification.Payload != id {
				continue
			}
			following, err := s.IsFollowing(ctx, followerID, followedID)
			if err != nil {
				log.Printf("Follow watch %s: recheck failed: %v", id, err)
				continue
			}
			value.Set(following)
		}
	}()

	return value, nil
}
