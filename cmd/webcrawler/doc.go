// Command webcrawler runs the crawl orchestrator.
//
// Subcommands:
//   - serve: the HTTP job API on server.port plus a worker pool of
//     crawler.concurrency slots. Jobs left RUNNING by a previous process are
//     requeued at startup. SIGINT/SIGTERM drain the server, close the queue and
//     flush the event hub before exit.
//   - crawl: one job in the foreground from a YAML job file or a start URL.
//     Results go to SQLite unless --store says otherwise, and the final job
//     record and stats print as JSON.
//   - templates: the job presets usable with POST /v1/jobs/template.
//
// Configuration comes from --config, or crawl-orchestrator.yaml on the search
// path, overridden by CRAWLER_* environment variables (for example
// CRAWLER_STORE_BACKEND=postgres, CRAWLER_STORE_DSN, CRAWLER_LOCK_BACKEND=redis).
//
// A job file looks like:
//
//	template: content_audit
//	start_url: https://example.com/
//	max_pages: 25
//	max_depth: 2
//	delay_seconds: 1.5
//	respect_robots: true
//	deny_domains: [ads.example.com]
package main
