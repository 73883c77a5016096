// Package http serves the agent's operational surface: Prometheus metrics,
// a health check and a read-only JSON status API.
//
// # Endpoints
//
//	GET /metrics         Prometheus exposition
//	GET /healthz         component health, 503 when unhealthy
//	GET /api/decisions   journaled cycles (?outcome=&kind=&since=&until=&limit=)
//	GET /api/policies    loaded policy documents and the daily-check gate
//	GET /api/quotas      live quota windows under their effective rules
//	GET /api/stats       outcome counters since start
//
// The server binds to 127.0.0.1 by default. Requests carrying an Origin
// header are rejected unless the origin is allowlisted.
package http
