// Package store persists the schema contracts described for the upload and
// query endpoints: users, trips, trip_raw, detections, and
// road_quality_segments. Trip writes are transactional and idempotent:
// reprocessing a trip_id deletes its prior detections before reinserting.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tarekm28/ouajourad/pkg/cluster"
	"github.com/tarekm28/ouajourad/pkg/logx"
	"github.com/tarekm28/ouajourad/pkg/model"
)

// Store wraps a sqlite connection pool bounded to the concurrency model's
// limit of 10 simultaneous acquires.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

const maxOpenConns = 10

// Open opens (creating if necessary) the sqlite database at dsn and
// ensures the schema exists.
func Open(dsn string, logger *logx.Logger) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("store: empty database dsn")
	}

	if path := filepath.Dir(dsn); path != "." && path != "" {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("store: create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	logger.Info("store_opened", "dsn", dsn, "max_open_conns", maxOpenConns)
	return s, nil
}

func (s *Store) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS trips (
		trip_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		start_time DATETIME,
		end_time DATETIME,
		sample_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS trip_raw (
		trip_id TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS detections (
		trip_id TEXT NOT NULL,
		ts DATETIME NOT NULL,
		lat REAL NOT NULL,
		lon REAL NOT NULL,
		intensity REAL NOT NULL,
		stability REAL NOT NULL,
		mount_state TEXT NOT NULL,
		PRIMARY KEY (trip_id, ts)
	);
	CREATE INDEX IF NOT EXISTS idx_detections_ts ON detections(ts);

	CREATE TABLE IF NOT EXISTS road_quality_segments (
		segment_id TEXT PRIMARY KEY,
		lat REAL NOT NULL,
		lon REAL NOT NULL,
		roughness REAL NOT NULL,
		rough_windows INTEGER NOT NULL,
		trips INTEGER NOT NULL,
		last_ts DATETIME NOT NULL,
		confidence REAL NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// UploadTrip persists the ingress payload (users/trips/trip_raw upsert) in
// one transaction.
func (s *Store) UploadTrip(ctx context.Context, userID, tripID string, startTime, endTime time.Time, sampleCount int, rawPayload []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin upload tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO users (user_id) VALUES (?) ON CONFLICT DO NOTHING`, userID); err != nil {
		return fmt.Errorf("store: upsert user: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO trips (trip_id, user_id, start_time, end_time, sample_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(trip_id) DO UPDATE SET
			user_id=excluded.user_id, start_time=excluded.start_time,
			end_time=excluded.end_time, sample_count=excluded.sample_count
	`, tripID, userID, startTime, endTime, sampleCount); err != nil {
		return fmt.Errorf("store: upsert trip: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO trip_raw (trip_id, payload, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(trip_id) DO UPDATE SET payload=excluded.payload, created_at=excluded.created_at
	`, tripID, string(rawPayload), time.Now().UTC()); err != nil {
		return fmt.Errorf("store: upsert trip_raw: %w", err)
	}

	return tx.Commit()
}

// WriteTripResults writes a trip's detections and contributes its rough
// segments within a single transaction. Prior detections for the trip_id
// are deleted first so reprocessing is idempotent; partial results are
// never observable because the whole write is one transaction.
func (s *Store) WriteTripResults(ctx context.Context, tripID string, detections []model.Detection, segments []model.RoughSegment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin results tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM detections WHERE trip_id = ?`, tripID); err != nil {
		return fmt.Errorf("store: delete prior detections: %w", err)
	}

	for _, d := range detections {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO detections (trip_id, ts, lat, lon, intensity, stability, mount_state)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(trip_id, ts) DO NOTHING
		`, d.TripID, d.TS, d.Lat, d.Lon, d.Intensity, d.Stability, string(d.MountState)); err != nil {
			return fmt.Errorf("store: insert detection: %w", err)
		}
	}

	for _, seg := range segments {
		if err := upsertSegment(ctx, tx, seg); err != nil {
			return fmt.Errorf("store: upsert segment: %w", err)
		}
	}

	return tx.Commit()
}

// upsertSegment merges a newly computed segment into the persisted
// cross-trip aggregate using the hit-weighted running mean contract:
// roughness is weighted by each side's rough_windows count.
func upsertSegment(ctx context.Context, tx *sql.Tx, seg model.RoughSegment) error {
	var existing model.RoughSegment
	var lastTS time.Time
	err := tx.QueryRowContext(ctx, `
		SELECT lat, lon, roughness, rough_windows, trips, last_ts FROM road_quality_segments WHERE segment_id = ?
	`, seg.SegmentID).Scan(&existing.Lat, &existing.Lon, &existing.Roughness, &existing.RoughWindows, &existing.Trips, &lastTS)

	if err == sql.ErrNoRows {
		conf := seg.Confidence()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO road_quality_segments (segment_id, lat, lon, roughness, rough_windows, trips, last_ts, confidence)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, seg.SegmentID, seg.Lat, seg.Lon, seg.Roughness, seg.RoughWindows, seg.Trips, seg.LastTS, conf)
		return err
	}
	if err != nil {
		return err
	}

	existing.LastTS = lastTS

	totalWindows := existing.RoughWindows + seg.RoughWindows
	merged := existing
	if totalWindows > 0 {
		merged.Roughness = (existing.Roughness*float64(existing.RoughWindows) + seg.Roughness*float64(seg.RoughWindows)) / float64(totalWindows)
	}
	merged.RoughWindows = totalWindows
	merged.Trips = existing.Trips + seg.Trips
	merged.Lat = seg.Lat
	merged.Lon = seg.Lon
	if seg.LastTS.After(existing.LastTS) {
		merged.LastTS = seg.LastTS
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE road_quality_segments SET lat=?, lon=?, roughness=?, rough_windows=?, trips=?, last_ts=?, confidence=?
		WHERE segment_id=?
	`, merged.Lat, merged.Lon, merged.Roughness, merged.RoughWindows, merged.Trips, merged.LastTS, merged.Confidence(), seg.SegmentID)
	return err
}

// DetectionsWithCoordinates returns every detection carrying a valid
// coordinate, along with the user_id of its owning trip, for C7 to
// aggregate. Detections without coordinates are excluded up front since C7
// never clusters them.
func (s *Store) DetectionsWithCoordinates(ctx context.Context) ([]cluster.Detection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.trip_id, d.ts, d.lat, d.lon, d.intensity, d.stability, d.mount_state, t.user_id
		FROM detections d
		JOIN trips t ON t.trip_id = d.trip_id
		WHERE d.lat != ? AND d.lon != ?
	`, model.NoCoord, model.NoCoord)
	if err != nil {
		return nil, fmt.Errorf("store: query detections: %w", err)
	}
	defer rows.Close()

	var out []cluster.Detection
	for rows.Next() {
		var d model.Detection
		var mountState string
		var userID string
		if err := rows.Scan(&d.TripID, &d.TS, &d.Lat, &d.Lon, &d.Intensity, &d.Stability, &mountState, &userID); err != nil {
			return nil, fmt.Errorf("store: scan detection: %w", err)
		}
		d.MountState = model.MountState(mountState)
		out = append(out, cluster.Detection{Detection: d, UserID: userID})
	}
	return out, rows.Err()
}

// DetectionsByIntensity returns raw detections ordered newest first,
// filtered by a minimum intensity and truncated to limit.
func (s *Store) DetectionsByIntensity(ctx context.Context, minIntensity float64, limit int) ([]model.Detection, error) {
	if limit <= 0 {
		limit = -1 // sqlite: LIMIT -1 means unlimited
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT trip_id, ts, lat, lon, intensity, stability, mount_state
		FROM detections
		WHERE intensity >= ?
		ORDER BY ts DESC
		LIMIT ?
	`, minIntensity, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query detections by intensity: %w", err)
	}
	defer rows.Close()

	var out []model.Detection
	for rows.Next() {
		var d model.Detection
		var mountState string
		if err := rows.Scan(&d.TripID, &d.TS, &d.Lat, &d.Lon, &d.Intensity, &d.Stability, &mountState); err != nil {
			return nil, fmt.Errorf("store: scan detection: %w", err)
		}
		d.MountState = model.MountState(mountState)
		out = append(out, d)
	}
	return out, rows.Err()
}

// TripCount returns the global trip count used as C7's total_trips input.
func (s *Store) TripCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trips`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store: count trips: %w", err)
	}
	return count, nil
}

// RawPayload returns the stored verbatim payload for a trip_id, for
// reprocessing.
func (s *Store) RawPayload(ctx context.Context, tripID string) ([]byte, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM trip_raw WHERE trip_id = ?`, tripID).Scan(&payload)
	if err != nil {
		return nil, fmt.Errorf("store: read trip_raw: %w", err)
	}
	return []byte(payload), nil
}
