// Package middleware provides HTTP middleware for the media gallery API.
//
// It includes:
//   - Request logging in W3C Extended Log Format, with optional health check filtering
//   - Prometheus request metrics labelled by route template
//
// Both wrappers pass Flush through so server-sent event streams work behind them.
package middleware
