// Package cmd implements the bulkmail command line: send, digest and version.
package cmd
