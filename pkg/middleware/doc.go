// Package middleware provides envelope middleware for the coordinator:
// Prometheus metrics and OpenTelemetry tracing.
//
// Middleware wraps the routing of every inbound envelope. Install it on
// the coordinator before serving:
//
//	coord.Use(middleware.Prometheus())
//	coord.Use(middleware.OpenTelemetry())
//
// The Record* helpers drive the connection, session, broadcast, and lock
// metrics from the coordinator's hooks; the application wires them up.
package middleware
