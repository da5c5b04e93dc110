// Package influxdb ships punch telemetry to a time-series bucket.
//
// Three measurements are written: punch_events (one point per realtime
// punch, timestamped by the terminal), terminal_status (capacity
// snapshots from polling), and free-form points for gateway statistics.
// Points are batched and written asynchronously; failures surface
// through the SetOnError callback and never block event handling.
//
// The whole package is optional. With influxdb.enabled false in the
// config, Connect returns ErrDisabled and the gateway runs without it.
package influxdb
