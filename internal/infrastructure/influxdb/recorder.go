package influxdb

import (
	"context"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/sqlitehelper/internal/migration"
)

// Measurement names written by Recorder.
const (
	MeasurementSteps = "migration_steps"
	MeasurementRuns  = "migration_runs"
)

// pointWriter is the subset of Client used by Recorder.
type pointWriter interface {
	Write(point *write.Point)
}

// Recorder writes migration history to InfluxDB. It implements
// migration.Observer: every committed step becomes a migration_steps
// point, and RecordResult adds a migration_runs point per run.
//
// Writes are batched and asynchronous; they never block or fail a run.
type Recorder struct {
	w        pointWriter
	database string
}

// NewRecorder returns a Recorder tagging points with the database name.
func NewRecorder(client *Client, database string) *Recorder {
	return &Recorder{w: client, database: database}
}

// MigrationApplied records one committed step.
func (r *Recorder) MigrationApplied(_ context.Context, event migration.Event) {
	r.w.Write(stepPoint(r.database, event))
}

// RecordResult records the outcome of a run. result may be nil when the
// run failed before any step.
func (r *Recorder) RecordResult(result *migration.Result, runErr error) {
	r.w.Write(runPoint(r.database, result, runErr, time.Now()))
}

func stepPoint(database string, event migration.Event) *write.Point {
	at := event.At
	if at.IsZero() {
		at = time.Now()
	}
	return write.NewPoint(
		MeasurementSteps,
		map[string]string{
			"database":  database,
			"table":     event.Table,
			"direction": string(event.Direction),
		},
		map[string]any{
			"run_id":      event.RunID,
			"index":       int64(event.Index),
			"name":        event.Name,
			"duration_ms": event.Duration.Milliseconds(),
		},
		at,
	)
}

func runPoint(database string, result *migration.Result, runErr error, now time.Time) *write.Point {
	status := "ok"
	if runErr != nil {
		status = "failed"
	}

	fields := map[string]any{
		"applied": int64(0),
	}
	at := now
	if result != nil {
		fields["run_id"] = result.RunID
		fields["version"] = int64(result.Version)
		fields["applied"] = int64(len(result.Applied))
		fields["reapplied"] = result.Reapplied != ""
		fields["duration_ms"] = result.FinishedAt.Sub(result.StartedAt).Milliseconds()
		if !result.FinishedAt.IsZero() {
			at = result.FinishedAt
		}
	}
	if runErr != nil {
		fields["error"] = runErr.Error()
	}

	return write.NewPoint(
		MeasurementRuns,
		map[string]string{
			"database": database,
			"status":   status,
		},
		fields,
		at,
	)
}
