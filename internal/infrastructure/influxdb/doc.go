// Package influxdb provides optional time-series export for telemetry.
//
// It wraps the official influxdb-client-go v2 library with fleetgate's
// patterns for connection management and health monitoring. When enabled,
// numeric telemetry fields are written as points tagged by device name so
// dashboards can chart battery drain, altitude and similar series.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteTelemetryField("drone-alpha", "battery", 87.0)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// Writes are non-blocking and batched according to config (batch_size,
// flush_interval); async write errors surface via SetOnError.
package influxdb
