// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /api/v1/runs for run submission, GET /api/v1/runs/... for status
//     and results.
//   - POST /api/v1/workbooks for uploading .xlsx models at runtime.
//   - GET /api/v1/stats/runs for evaluation telemetry via the StatsRepository
//     interface.
//   - GET / and /models/{id}/form for the browser parameter-form workflow.
package api
