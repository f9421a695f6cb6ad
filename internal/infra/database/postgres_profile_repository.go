// internal/infra/database/postgres_profile_repository.go
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"event_digest_service/internal/domain/digest"
	"event_digest_service/internal/domain/profile"

	"github.com/lib/pq" // For pq.Array and driver registration
)

// Custom errors
var ErrProfileNotFound = fmt.Errorf("preference profile not found")

type PostgresProfileRepository struct {
	db *sql.DB
}

func NewPostgresProfileRepository(db *sql.DB) *PostgresProfileRepository {
	return &PostgresProfileRepository{db: db}
}

const profileColumns = `user_id, category_weights, genres, preferred_days, preferred_times,
               price_max_cents, include_free_events, home_city,
               notify_new_events, notify_matches, notify_weekly, digest_cadence,
               created_at, updated_at`

func (r *PostgresProfileRepository) ListOptedIn(ctx context.Context, cadence digest.Cadence) ([]*profile.PreferenceProfile, error) {
	// The opt-in gate is cadence-specific: notify_matches for DAILY,
	// notify_weekly for WEEKLY. notify_new_events gates the instant path
	// handled elsewhere.
	var gate string
	switch cadence {
	case digest.CadenceDaily:
		gate = "notify_matches = TRUE"
	case digest.CadenceWeekly:
		gate = "notify_weekly = TRUE"
	default:
		return nil, fmt.Errorf("cadence %q is not schedulable", cadence)
	}

	query := `SELECT ` + profileColumns + `
               FROM user_preference_profiles
               WHERE is_active = TRUE AND digest_cadence = $1 AND ` + gate + `
               ORDER BY user_id`

	rows, err := r.db.QueryContext(ctx, query, cadence)
	if err != nil {
		return nil, fmt.Errorf("error listing opted-in profiles: %w", err)
	}
	defer rows.Close()

	profiles := make([]*profile.PreferenceProfile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating opted-in profiles: %w", err)
	}
	return profiles, nil
}

func (r *PostgresProfileRepository) GetByUserID(ctx context.Context, userID int64) (*profile.PreferenceProfile, error) {
	query := `SELECT ` + profileColumns + `
               FROM user_preference_profiles WHERE user_id = $1 AND is_active = TRUE`
	row := r.db.QueryRowContext(ctx, query, userID)
	p, err := scanProfile(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("error getting profile by user ID: %w", err)
	}
	return p, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*profile.PreferenceProfile, error) {
	p := &profile.PreferenceProfile{}
	var (
		weightsJSON []byte
		genres      []string
		days        []int64
		times       []string
	)
	err := row.Scan(
		&p.UserID, &weightsJSON, pq.Array(&genres), pq.Array(&days), pq.Array(&times),
		&p.PriceMaxCents, &p.IncludeFreeEvents, &p.HomeCity,
		&p.NotifyNewEvents, &p.NotifyMatches, &p.NotifyWeekly, &p.DigestCadence,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err // Caller maps to ErrProfileNotFound
		}
		return nil, fmt.Errorf("error scanning preference profile: %w", err)
	}

	p.CategoryWeights = make(map[string]float64)
	if len(weightsJSON) > 0 {
		if err := json.Unmarshal(weightsJSON, &p.CategoryWeights); err != nil {
			return nil, fmt.Errorf("error decoding category weights for user %d: %w", p.UserID, err)
		}
	}

	p.Genres = make(map[string]bool, len(genres))
	for _, g := range genres {
		p.Genres[g] = true
	}
	p.PreferredDays = make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		if d >= 0 && d <= 6 {
			p.PreferredDays[time.Weekday(d)] = true
		}
	}
	p.PreferredTimes = make(map[profile.TimeBucket]bool, len(times))
	for _, t := range times {
		p.PreferredTimes[profile.TimeBucket(t)] = true
	}
	return p, nil
}
