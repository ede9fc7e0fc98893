// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - POST /analyze submits a URL for analysis.
//   - GET /search ranks the inspiration corpus.
//   - GET /jobs/{job_id} reports job state; POST /jobs/{job_id}/start,
//     /complete, and /fail are the worker callbacks.
//   - GET /healthz, /readyz, and /metrics for health checks and Prometheus.
package api
