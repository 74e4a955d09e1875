// Package influxdb writes coordinator time series to InfluxDB v2.
//
// Four measurements are produced: device_liveness on every liveness
// transition, investigation when a round sequence ends, function_call for
// each remote function reply, and link_stats with periodic serial and
// dispatcher counters. Writes are batched and asynchronous; the bridge
// never waits on the database.
package influxdb
