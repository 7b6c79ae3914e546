// Package main hosts the page insights service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes the page, listing, health and metrics endpoints. Pipeline errors are
//     mapped to 400/404/409/500 responses that never carry internal error text.
//   - Ingestion: GET /api/page/{username} reads through the document cache and the store. On a double miss the
//     pipeline waits on the per-host limiter, fetches the profile with the Colly fetcher (promoting script-only shells
//     to a headless Chromedp render when enabled), archives the raw markup, extracts the entity graph and persists
//     page, posts, comments and followers before re-reading and caching the document.
//   - Persistence: memory, Postgres (pgx) or MongoDB stores. Connection establishment retries a bounded number of
//     times; when every attempt fails the service still starts and every store call reports "not initialized".
//   - Fanout: a page.ingested event is published to memory or Google Pub/Sub when events are enabled.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via the metrics middleware and /metrics handler; OpenTelemetry spans wrap each ingestion.
//
// Quick checklist:
//   - Configure env vars: INSIGHTS_SERVER_PORT or PORT, INSIGHTS_STORE_BACKEND with INSIGHTS_STORE_DSN (postgres) or
//     INSIGHTS_STORE_URI (mongo), INSIGHTS_CACHE_TTL, INSIGHTS_FETCH_RATE_PER_SECOND, INSIGHTS_HEADLESS_ENABLED,
//     INSIGHTS_ARCHIVE_BACKEND and INSIGHTS_EVENTS_BACKEND.
//   - Run locally: go run ./cmd/insights -config config.yaml (or rely solely on env overrides).
//   - The process reacts to SIGINT/SIGTERM with a graceful drain bounded by server.shutdown_timeout.
package main
