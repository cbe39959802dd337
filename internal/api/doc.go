// Package api hosts the HTTP interface of the collector. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/tasks/{task_id}/collect streams a run as Server-Sent Events.
//   - GET /v1/tasks/{task_id}/items and the /sources routes manage a task's
//     collected items and candidate sources.
//   - GET /v1/runs/... reports run history recorded by the telemetry hub.
package api
