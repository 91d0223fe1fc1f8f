// Package mail delivers signature notifications. It builds the MIME message
// (HTML body plus the signature image as attachment), renders the embedded
// HTML template and hands the message to one of several transports: SMTP,
// AWS SES or a log-only sender. An optional background queue retries
// failed deliveries.
package mail
