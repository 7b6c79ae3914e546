// Package api hosts the HTTP server, middleware, and REST handlers for the
// page insights service. Notable routes:
//   - GET /api/page/{username} serves a page document, ingesting it on a miss.
//   - GET /api/pages lists stored pages with name, category and follower filters.
//   - GET /api/page/{username}/posts and /followers, GET /api/posts/{post_id}/comments
//     list child entities newest first.
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
