// Package apiresponses provides the JSON response envelope used by every
// relay endpoint, shared between the api and ratelimit packages without
// import cycles.
package apiresponses
