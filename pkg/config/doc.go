// Package config handles bulkmail configuration loading from YAML files and
// BULKMAIL_* environment variables, including pacing and retry defaults, the
// message signature and keyring-backed SMTP credentials.
package config
