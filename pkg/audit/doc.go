// Package audit records security relevant relay decisions (accepted and
// rejected submissions, blocked origins, failed token checks, rate limits)
// and ships them asynchronously to one or more sinks.
package audit
