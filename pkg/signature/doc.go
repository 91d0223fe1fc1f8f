// Package signature validates digital signature submissions (signer name,
// optional identification number and a base64 encoded PNG data URI) before
// they are relayed by mail.
package signature
