// Package cmd implements the cobra command tree of sigctl: offline payload
// validation, submission to a running relay, health and version checks.
package cmd
