// Package catalog owns the delivery definitions and categories the rest of
// the process reads. Reloads are validated first and committed with a single
// pointer swap; a reload with any CRITICAL finding leaves the running
// snapshot untouched.
package catalog
