// Package inspiration holds the domain model for the design-inspiration
// service: analysis jobs keyed by canonical URL, the read-only corpus of
// indexed sites, and the capability interfaces (job store, work queue,
// embedding backend, corpus index) the dispatcher and search orchestrator
// are built on.
package inspiration
