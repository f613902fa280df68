// Package api implements the HTTP JSON API and WebSocket live click feed
// for LinkPulse.
//
// This package provides:
//   - Cookie-based session endpoints under /auth (login, register, Google
//     sign-in, logout, password reset, WebSocket tickets)
//   - Managed user administration and the audit trail under /users
//   - Link management, analytics and the public redirect under /links
//   - Credit pack purchases and subscription webhooks under /payments
//   - A WebSocket hub that relays click events received over MQTT
//   - Middleware stack (request ID, logging, recovery, CORS, session
//     resolution, permission checks)
//
// # Sessions
//
// Every protected request runs the protect pipeline: the jwtToken cookie
// is verified first and, when it is missing or no longer valid, the
// refreshToken cookie is used to mint a new access token from the live
// user record. Any failure clears both cookies and answers 401 with the
// reason. Permission checks then consult the static role table in the
// auth package.
//
// # Live Feed
//
// Clicks are published to MQTT by whichever instance served the redirect
// and fanned out by every instance's hub, so a browser connected to any
// instance sees every click on the links it may access. WebSocket
// connections authenticate with single-use tickets so that tokens never
// appear in URLs.
//
// # Graceful Degradation
//
// The server operates without MQTT: redirects still record clicks and the
// hub simply receives no events.
package api
