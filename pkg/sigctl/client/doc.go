// Package client implements the HTTP client sigctl uses to talk to a running
// signature relay.
package client
