// Package crawler holds the domain model shared by the orchestration
// packages: jobs and their configuration, frontier entries, page results,
// challenge findings, the error taxonomy, and the narrow ports (rendering,
// storage, queueing) the engine is wired against.
package crawler
