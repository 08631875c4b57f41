package db

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/occupancy.report/internal/occupancy"
)

// DefaultEventLimit caps RecentEvents when no limit is given.
const DefaultEventLimit = 100

// RecordEvent stores one crossing. Recording the same event ID twice is a
// no-op; any other constraint failure is returned.
func (db *DB) RecordEvent(ctx context.Context, e occupancy.Event) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO occupancy_events (event_id, delta, count_after, occurred_unix)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING`,
		e.ID, string(e.Delta), int64(e.Count), unixSeconds(e.At),
	)
	if err != nil {
		return fmt.Errorf("failed to record event %s: %w", e.ID, err)
	}
	return nil
}

// RecentEvents returns up to limit events, newest first.
func (db *DB) RecentEvents(ctx context.Context, limit int) ([]occupancy.Event, error) {
	if limit <= 0 {
		limit = DefaultEventLimit
	}

	rows, err := db.QueryContext(ctx,
		`SELECT event_id, delta, count_after, occurred_unix
		FROM occupancy_events
		ORDER BY occurred_unix DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []occupancy.Event
	for rows.Next() {
		var (
			id       string
			delta    string
			count    int64
			occurred float64
		)
		if err := rows.Scan(&id, &delta, &count, &occurred); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, occupancy.Event{
			ID:    id,
			Delta: occupancy.Delta(delta),
			Count: uint32(count),
			At:    fromUnixSeconds(occurred),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// HourlyCount aggregates the crossings within one clock hour (UTC).
type HourlyCount struct {
	Hour      time.Time `json:"hour"`
	Entered   int       `json:"entered"`
	Left      int       `json:"left"`
	PeakCount int       `json:"peak_count"` // Highest occupancy reported by an event in the hour
}

// HourlyRollup buckets events at or after since into hours, oldest first.
// Hours without events are omitted.
func (db *DB) HourlyRollup(ctx context.Context, since time.Time) ([]HourlyCount, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT CAST(occurred_unix / 3600 AS INTEGER) * 3600 AS bucket,
			SUM(CASE WHEN delta = 'entered' THEN 1 ELSE 0 END),
			SUM(CASE WHEN delta = 'left' THEN 1 ELSE 0 END),
			MAX(count_after)
		FROM occupancy_events
		WHERE occurred_unix >= ?
		GROUP BY bucket
		ORDER BY bucket`, unixSeconds(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query hourly rollup: %w", err)
	}
	defer rows.Close()

	var out []HourlyCount
	for rows.Next() {
		var (
			bucket int64
			h      HourlyCount
		)
		if err := rows.Scan(&bucket, &h.Entered, &h.Left, &h.PeakCount); err != nil {
			return nil, fmt.Errorf("failed to scan hourly rollup: %w", err)
		}
		h.Hour = time.Unix(bucket, 0).UTC()
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// EventCount returns the number of stored events.
func (db *DB) EventCount(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM occupancy_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnixSeconds(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(math.Round(frac*1e6))*int64(time.Microsecond)).UTC()
}
