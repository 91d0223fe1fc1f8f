// Package ratelimit provides the anti-abuse throttles in front of the
// signature endpoint: a per-IP token bucket guarding every route, a
// fixed-window request limiter with standard RateLimit headers, and a
// slow-down throttle that delays clients once they pass a threshold.
// Window counters live in a Store, either in memory or in Redis.
package ratelimit
