// Package auth provides authentication and authorisation for LinkPulse.
//
// It implements:
//   - a credential store (SQLite, or PostgreSQL via pgx)
//   - HS256 access (1h) and refresh (7d) tokens signed with distinct secrets
//   - the session refresh protocol: an expired access token plus a valid
//     refresh token yields a new access token built from live user state;
//     the refresh token itself is never reissued
//   - a static role to permission map (viewer, developer, admin)
//   - Argon2id password hashing with transparent upgrade of bcrypt hashes
//   - single-use 6-digit reset codes stored as SHA-256 hashes
//   - Google sign-in through ID tokens or authorization codes
//   - Redis-backed throttling of failed logins and reset requests
//
// Refresh tokens are stateless: logout clears cookies only and an issued
// refresh token stays valid until it expires.
package auth
