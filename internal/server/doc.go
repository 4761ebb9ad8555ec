// Package server hosts the chat backend API and websocket gateway from a
// single HTTP server.
//
// The server builds a consistent middleware chain of auth, rate limiting,
// metrics, audit, and logging so handlers all share common protections and
// instrumentation.
//
// Session resolution happens once per request in the auth middleware; the
// websocket route is exempt because the gateway performs its own in-band
// handshake after the upgrade.
package server
