// Package digest mails the tail of the dispatch log to an operator on a fixed
// interval, independently of any dispatch run.
package digest
