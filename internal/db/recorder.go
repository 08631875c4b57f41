package db

import (
	"context"

	"github.com/banshee-data/occupancy.report/internal/occupancy"
)

// RecordFrom stores every event received on events until the channel is
// closed or ctx is cancelled. A failed insert is logged and skipped so one bad
// write does not stop the recorder. On cancellation, events already buffered
// in the channel are still written before returning. Inserts do not observe
// ctx cancellation.
func (db *DB) RecordFrom(ctx context.Context, events <-chan occupancy.Event) error {
	writeCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			db.drain(writeCtx, events)
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			db.record(writeCtx, e)
		}
	}
}

// drain records whatever is buffered in events without waiting for more.
func (db *DB) drain(ctx context.Context, events <-chan occupancy.Event) {
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			db.record(ctx, e)
		default:
			return
		}
	}
}

func (db *DB) record(ctx context.Context, e occupancy.Event) {
	if err := db.RecordEvent(ctx, e); err != nil {
		logf("dropping event: %v", err)
	}
}
