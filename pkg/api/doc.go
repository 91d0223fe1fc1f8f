// Package api implements the HTTP surface of the signature relay: the gin
// engine with its security middleware chain (security headers, per-IP
// limiting, origin policy, shared token) and the signature submission
// endpoint.
package api
