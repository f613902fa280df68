// Package influxdb writes LinkPulse metrics to InfluxDB v2.
//
// Two measurements are recorded:
//   - auth_events: tags event (login, register, refresh, ...) and outcome
//     (success, failure, rate_limited); field count
//   - link_clicks: tags link_id, owner_id, country, device_type, browser;
//     field count
//
// Writes go through the client's non-blocking batching API, so request
// handlers never wait on InfluxDB. The client satisfies auth.MetricsWriter.
package influxdb
