// Package delivery holds the configuration-owned model of a delivery event:
// the Definition, the category table it draws from, and the YAML codec used
// for deliveries.yml and categories.yml.
//
// Everything in this package is a plain value. Definitions are never mutated
// after decoding; a reload produces a new set.
package delivery
