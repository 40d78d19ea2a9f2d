// Package postgres provides the pgx-backed store for athletes, activities,
// badge awards and outbox events.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/runhub/internal/activitysync"
	"example.com/runhub/internal/badges"
	"example.com/runhub/internal/domain"
	"example.com/runhub/internal/events"
	"example.com/runhub/internal/logging"
)

const uniqueViolation = "23505"

const activityColumns = `activity_id, athlete_id, kind, name, distance_m, moving_time_s, elapsed_time_s, elevation_gain_m,
        started_at, summary_polyline, start_latlng, end_latlng, raw_payload, created_at, updated_at`

// Repository provides Postgres-backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetAthlete returns the athlete or nil when absent.
func (r *Repository) GetAthlete(ctx context.Context, id domain.AthleteID) (*domain.Athlete, error) {
	const query = `SELECT athlete_id, username, firstname, lastname, profile, access_token, refresh_token, token_expires_at, created_at, updated_at
        FROM athletes WHERE athlete_id=$1`

	var (
		athlete domain.Athlete
		expires *time.Time
	)
	err := r.pool.QueryRow(ctx, query, int64(id)).Scan(
		&athlete.ID, &athlete.Username, &athlete.Firstname, &athlete.Lastname, &athlete.Profile,
		&athlete.AccessToken, &athlete.RefreshToken, &expires, &athlete.CreatedAt, &athlete.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if expires != nil {
		athlete.TokenExpiresAt = expires.UTC()
	}
	return &athlete, nil
}

// UpsertAthlete creates the athlete or replaces its profile and tokens. created_at is kept.
func (r *Repository) UpsertAthlete(ctx context.Context, athlete domain.Athlete) error {
	const stmt = `INSERT INTO athletes (athlete_id, username, firstname, lastname, profile, access_token, refresh_token, token_expires_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (athlete_id) DO UPDATE SET
            username = EXCLUDED.username,
            firstname = EXCLUDED.firstname,
            lastname = EXCLUDED.lastname,
            profile = EXCLUDED.profile,
            access_token = EXCLUDED.access_token,
            refresh_token = EXCLUDED.refresh_token,
            token_expires_at = EXCLUDED.token_expires_at,
            updated_at = NOW()`

	_, err := r.pool.Exec(ctx, stmt,
		int64(athlete.ID),
		athlete.Username,
		athlete.Firstname,
		athlete.Lastname,
		athlete.Profile,
		athlete.AccessToken,
		athlete.RefreshToken,
		nullIfZero(athlete.TokenExpiresAt),
	)
	return err
}

// UpdateCredentials stores refreshed tokens. An empty refresh token keeps the stored one.
func (r *Repository) UpdateCredentials(ctx context.Context, id domain.AthleteID, creds domain.Credentials) error {
	const stmt = `UPDATE athletes SET
            access_token = $2,
            refresh_token = COALESCE(NULLIF($3, ''), refresh_token),
            token_expires_at = $4,
            updated_at = NOW()
        WHERE athlete_id = $1`

	tag, err := r.pool.Exec(ctx, stmt, int64(id), creds.AccessToken, creds.RefreshToken, nullIfZero(creds.ExpiresAt))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAthleteNotFound
	}
	return nil
}

// ListActivities returns the owner's runs newest first, starting after cursor.
func (r *Repository) ListActivities(ctx context.Context, owner domain.AthleteID, cursor *domain.Cursor, limit int) ([]domain.Activity, *domain.Cursor, error) {
	args := []interface{}{int64(owner), domain.KindRun, limit}
	query := `SELECT ` + activityColumns + ` FROM activities WHERE athlete_id=$1 AND kind=$2`
	if cursor != nil {
		query += ` AND (started_at, activity_id) < ($4, $5)`
		args = append(args, cursor.StartedAt, int64(cursor.ID))
	}
	query += ` ORDER BY started_at DESC, activity_id DESC LIMIT $3`

	results, err := r.queryActivities(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}

	var next *domain.Cursor
	if limit > 0 && len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{StartedAt: last.StartedAt, ID: last.ID}
	}
	return results, next, nil
}

// LatestActivity returns the owner's most recent run, or nil.
func (r *Repository) LatestActivity(ctx context.Context, owner domain.AthleteID) (*domain.Activity, error) {
	results, err := r.queryActivities(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE athlete_id=$1 AND kind=$2 ORDER BY started_at DESC, activity_id DESC LIMIT 1`,
		int64(owner), domain.KindRun)
	if err != nil || len(results) == 0 {
		return nil, err
	}
	return &results[0], nil
}

// FindActivity looks an activity up by id across all owners.
func (r *Repository) FindActivity(ctx context.Context, id domain.ActivityID) (*domain.Activity, error) {
	results, err := r.queryActivities(ctx, `SELECT `+activityColumns+` FROM activities WHERE activity_id=$1`, int64(id))
	if err != nil || len(results) == 0 {
		return nil, err
	}
	return &results[0], nil
}

// ActivitiesInWindow returns the owner's runs with start in [from, to].
func (r *Repository) ActivitiesInWindow(ctx context.Context, owner domain.AthleteID, from, to time.Time) ([]domain.Activity, error) {
	return r.queryActivities(ctx,
		`SELECT `+activityColumns+` FROM activities
        WHERE athlete_id=$1 AND kind=$2 AND started_at >= $3 AND started_at <= $4
        ORDER BY started_at DESC, activity_id DESC`,
		int64(owner), domain.KindRun, from, to)
}

// RunActivities returns every run the owner has, newest first.
func (r *Repository) RunActivities(ctx context.Context, owner domain.AthleteID) ([]domain.Activity, error) {
	return r.queryActivities(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE athlete_id=$1 AND kind=$2 ORDER BY started_at DESC, activity_id DESC`,
		int64(owner), domain.KindRun)
}

// CountActivities counts the owner's runs.
func (r *Repository) CountActivities(ctx context.Context, owner domain.AthleteID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM activities WHERE athlete_id=$1 AND kind=$2`, int64(owner), domain.KindRun).Scan(&count)
	return count, err
}

// Begin opens a write batch backed by a database transaction.
func (r *Repository) Begin(ctx context.Context) (activitysync.Batch, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin batch: %w", err)
	}
	return &batch{tx: tx}, nil
}

// RunStats aggregates the owner's runs for badge rules.
func (r *Repository) RunStats(ctx context.Context, owner domain.AthleteID) (domain.RunStats, error) {
	const query = `SELECT COUNT(*), COALESCE(SUM(distance_m), 0), COALESCE(MAX(distance_m), 0), COALESCE(SUM(elevation_gain_m), 0)
        FROM activities WHERE athlete_id=$1 AND kind=$2`

	var stats domain.RunStats
	err := r.pool.QueryRow(ctx, query, int64(owner), domain.KindRun).Scan(
		&stats.Count, &stats.TotalDistanceMeters, &stats.LongestRunMeters, &stats.TotalElevationGain,
	)
	return stats, err
}

// EarnedBadges lists the owner's awards that are still in the catalogue, oldest first.
func (r *Repository) EarnedBadges(ctx context.Context, owner domain.AthleteID) ([]domain.EarnedBadge, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT badge_id, awarded_at FROM user_badges WHERE athlete_id=$1 ORDER BY awarded_at, badge_id`, int64(owner))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.EarnedBadge, 0)
	for rows.Next() {
		var (
			id        string
			awardedAt time.Time
		)
		if err := rows.Scan(&id, &awardedAt); err != nil {
			return nil, err
		}
		badge, ok := badges.Lookup(id)
		if !ok {
			logging.Ctx(ctx).Warn().Str("badge_id", id).Msg("stored badge missing from catalogue")
			continue
		}
		out = append(out, domain.EarnedBadge{Badge: badge, AthleteID: owner, AwardedAt: awardedAt.UTC()})
	}
	return out, rows.Err()
}

// AwardBadge stores the award and its badge.awarded event in one transaction.
// It reports false when the athlete already holds the badge.
func (r *Repository) AwardBadge(ctx context.Context, owner domain.AthleteID, badge domain.Badge, at time.Time) (created bool, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx,
		`INSERT INTO user_badges (athlete_id, badge_id, awarded_at) VALUES ($1,$2,$3) ON CONFLICT (athlete_id, badge_id) DO NOTHING`,
		int64(owner), badge.ID, at)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, tx.Commit(ctx)
	}

	if err = insertOutbox(ctx, tx, outboxRecord{
		AggregateType: "athlete",
		AggregateID:   owner.String(),
		EventType:     events.TypeBadgeAwarded,
		PartitionKey:  owner.String(),
		DedupeKey:     fmt.Sprintf("%s:%s", owner, badge.ID),
		Payload: events.BadgeAwarded{
			AthleteID: int64(owner),
			BadgeID:   badge.ID,
			BadgeName: badge.Name,
			AwardedAt: at,
		},
	}); err != nil {
		return false, err
	}
	if err = tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Repository) queryActivities(ctx context.Context, query string, args ...interface{}) ([]domain.Activity, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.Activity, 0)
	for rows.Next() {
		activity, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, activity)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func scanActivity(row pgx.Row) (domain.Activity, error) {
	var (
		a   domain.Activity
		raw []byte
	)
	if err := row.Scan(
		&a.ID, &a.OwnerID, &a.Kind, &a.Name, &a.DistanceMeters, &a.MovingTimeSeconds, &a.ElapsedTimeSeconds, &a.ElevationGainMeters,
		&a.StartedAt, &a.Polyline, &a.StartLatLng, &a.EndLatLng, &raw, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return domain.Activity{}, err
	}
	a.RawPayload = raw
	a.StartedAt = a.StartedAt.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

// batch runs every write inside a savepoint so a failed statement does not
// abort the surrounding transaction.
type batch struct {
	tx pgx.Tx
}

func (b *batch) savepoint(ctx context.Context, fn func(pgx.Tx) error) error {
	sp, err := b.tx.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(sp); err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	return sp.Commit(ctx)
}

func (b *batch) Insert(ctx context.Context, a domain.Activity) error {
	const stmt = `INSERT INTO activities (` + activityColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`

	return b.savepoint(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, stmt,
			int64(a.ID), int64(a.OwnerID), a.Kind, a.Name, a.DistanceMeters, a.MovingTimeSeconds, a.ElapsedTimeSeconds, a.ElevationGainMeters,
			a.StartedAt, a.Polyline, a.StartLatLng, a.EndLatLng, rawJSON(a.RawPayload), a.CreatedAt, a.UpdatedAt,
		)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateActivity, a.ID)
		}
		return err
	})
}

func (b *batch) Update(ctx context.Context, a domain.Activity) error {
	const stmt = `UPDATE activities SET
            kind=$2, name=$3, distance_m=$4, moving_time_s=$5, elapsed_time_s=$6, elevation_gain_m=$7,
            started_at=$8, summary_polyline=$9, start_latlng=$10, end_latlng=$11, raw_payload=$12, updated_at=$13
        WHERE activity_id=$1`

	return b.savepoint(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, stmt,
			int64(a.ID), a.Kind, a.Name, a.DistanceMeters, a.MovingTimeSeconds, a.ElapsedTimeSeconds, a.ElevationGainMeters,
			a.StartedAt, a.Polyline, a.StartLatLng, a.EndLatLng, rawJSON(a.RawPayload), a.UpdatedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", domain.ErrActivityNotFound, a.ID)
		}
		return nil
	})
}

func (b *batch) Delete(ctx context.Context, id domain.ActivityID) error {
	return b.savepoint(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM activities WHERE activity_id=$1`, int64(id))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", domain.ErrActivityNotFound, id)
		}
		return nil
	})
}

func (b *batch) DeleteRuns(ctx context.Context, owner domain.AthleteID) (int, error) {
	var deleted int
	err := b.savepoint(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM activities WHERE athlete_id=$1 AND kind=$2`, int64(owner), domain.KindRun)
		if err != nil {
			return err
		}
		deleted = int(tag.RowsAffected())
		return nil
	})
	return deleted, err
}

func (b *batch) RecordSync(ctx context.Context, event events.SyncCompleted) error {
	owner := domain.AthleteID(event.AthleteID).String()
	return b.savepoint(ctx, func(tx pgx.Tx) error {
		return insertOutbox(ctx, tx, outboxRecord{
			AggregateType: "athlete",
			AggregateID:   owner,
			EventType:     events.TypeSyncCompleted,
			PartitionKey:  owner,
			DedupeKey:     "sync:" + event.SyncID,
			Payload:       event,
		})
	})
}

func (b *batch) Commit(ctx context.Context) error {
	return b.tx.Commit(ctx)
}

func (b *batch) Rollback(ctx context.Context) error {
	err := b.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

type outboxRecord struct {
	AggregateType string
	AggregateID   string
	EventType     string
	PartitionKey  string
	DedupeKey     string
	Payload       interface{}
}

func insertOutbox(ctx context.Context, tx pgx.Tx, rec outboxRecord) error {
	route, ok := events.Routes[rec.EventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", rec.EventType)
	}
	body, err := json.Marshal(rec.Payload)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err = tx.Exec(ctx, stmt,
		rec.AggregateType,
		rec.AggregateID,
		rec.EventType,
		route.Topic,
		route.SchemaSubject,
		rec.PartitionKey,
		body,
		rec.DedupeKey,
	)
	return err
}

// rawJSON stores an empty payload as a JSON null so the NOT NULL jsonb column accepts it.
func rawJSON(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}

func nullIfZero(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
