// Package api hosts the HTTP server, middleware, and REST handlers for the
// job command surface. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs and /v1/jobs/template to create PENDING jobs.
//   - POST /v1/jobs/{job_id}/start|pause|resume|cancel|captcha/solved for
//     lifecycle commands; invalid transitions answer 409. captcha/solved
//     resumes at the next unvisited frontier entry without refetching the
//     challenged page or following its links; a job halted on its start page
//     therefore completes with that single page.
//   - GET /v1/jobs/{job_id}, /pages, /events and /stats for progress reads.
package api
