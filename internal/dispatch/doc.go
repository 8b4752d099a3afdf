// Package dispatch provides the dispatcher façade callers drive. It routes
// each request to the backend owning the record, keeps cache lock
// acquisition narrow (never across subprocess or network I/O), persists and
// restores the cache, and runs the background readiness watchers on a
// drainable task runner.
package dispatch
