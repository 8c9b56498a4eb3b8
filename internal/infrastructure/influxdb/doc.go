// Package influxdb records sqlitehelper migration history in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched writes and health monitoring, and provides a
// Recorder that plugs into the migration runner as an observer.
//
// # Measurements
//
//	migration_steps  tags: database, table, direction
//	                 fields: run_id, index, name, duration_ms
//	migration_runs   tags: database, status
//	                 fields: run_id, version, applied, reapplied, duration_ms, error
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	rec := influxdb.NewRecorder(client, "app.db")
//	opts.Observers = append(opts.Observers, rec)
//
// # Error Handling
//
// Writes are non-blocking and batch errors are delivered via the SetOnError
// callback. Connection and health check errors are returned directly.
package influxdb
