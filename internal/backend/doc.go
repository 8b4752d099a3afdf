// Package backend defines the capability interface every orchestrator
// implementation (SkyPilot today, others behind the same tag) must provide,
// the registry resolving record kind tags to implementations, and the
// shared readiness watcher that reconciles declared state with observed
// state in the background.
package backend
