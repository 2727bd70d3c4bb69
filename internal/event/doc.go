// Package event holds the runtime state of one running delivery event and
// ranks its participants.
package event
