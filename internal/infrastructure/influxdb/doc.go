// Package influxdb records long-term link statistics in InfluxDB v2.
//
// The integration is optional and disabled by default. When enabled, the
// status reporter pushes per-transport frame counters, per-vehicle message
// rates, and mission transfer events through a batched non-blocking write
// API. A broken InfluxDB connection never affects frame routing; writes
// are silently dropped while disconnected and errors surface through the
// SetOnError callback.
package influxdb
