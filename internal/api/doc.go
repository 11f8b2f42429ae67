// Package api hosts the operator HTTP server. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs and /v1/jobs/sweep to add work to the queue.
//   - GET /v1/jobs/{job_id} and /v1/queue/stats to inspect it.
package api
