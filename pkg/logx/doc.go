// Package logx wraps zerolog for deliveryd.
//
// A Logger derived from a Service follows every Service.Apply, so level and
// sink changes from a config reload reach loggers that were handed out at
// startup. The zero Logger discards everything.
package logx
