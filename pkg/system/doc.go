// Package system holds process-wide helpers: logger construction and the
// request id / request-scoped logger middleware.
package system
