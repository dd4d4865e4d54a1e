// Package auth provides operator authentication for the fleetgate API.
//
// Operators are human accounts stored in SQLite with Argon2id password
// hashes (OWASP 2025 parameters). A successful login issues a short-lived
// HS256 JWT; API requests are validated by signature only, with no
// database hit per request.
//
// Device authentication is separate and simpler (shared secret at session
// handshake); it lives in the gateway package, not here.
package auth
