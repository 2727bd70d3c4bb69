// Package httpapi is the operator HTTP API: list deliveries and schedules,
// inspect and steer active events, record deliveries and reload the catalog.
package httpapi
