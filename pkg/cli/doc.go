// Package cli defines the command line flags of the relay binary. Every
// flag falls back to an environment variable.
package cli
