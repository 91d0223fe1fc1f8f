// Package metrics defines and registers the Prometheus collectors exported
// by the signature relay: submission outcomes, throttling decisions and
// mail delivery.
package metrics
