// Package mail provides the SMTP side of bulkmail: go-mail backed sessions
// that require implicit TLS or STARTTLS, a retrying connector that tells
// rejected credentials apart from transient failures, the multipart message
// builder and the signature renderer.
package mail
