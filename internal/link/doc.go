// Package link manages trackable short links and their click analytics.
//
// A link belongs to the user who created it. Its owner and the admin who
// manages the owner may read, edit and delete it. Creating a link costs
// one credit unless the creator is an admin or holds an active
// subscription; the credit is taken with a conditional update so a
// balance never goes negative.
//
// Every visit to /links/r/{id} becomes a Click enriched with:
//   - geo-location from ip-api.com ("Unknown" when the lookup fails)
//   - device type and browser parsed from the User-Agent
//   - the Referer header
//
// Recorded clicks are published on MQTT (linkpulse/events/clicks/{id}) for
// the live WebSocket feed and written to InfluxDB as link_clicks points.
package link
