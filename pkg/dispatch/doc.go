// Package dispatch runs a bulk mailing: it loads the recipient list, keeps a
// single SMTP session alive across a batch, paces sends, refreshes the session
// at batch boundaries and skips recipients whose send fails.
package dispatch
