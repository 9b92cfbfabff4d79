// Package sqlexec gives plugins read-only SQL access to a node's local
// state database. Only SELECT statements (optionally prefixed by a WITH
// clause) are accepted; row counts and execution time are bounded.
package sqlexec
