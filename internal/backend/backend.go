package backend

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/seantiz/servicing/internal/cache"
	"github.com/seantiz/servicing/internal/model"
)

// DefaultPollInterval is how long the readiness watcher sleeps between
// probe attempts when the dispatcher does not override it.
const DefaultPollInterval = 5 * time.Second

// Env bundles the shared resources an orchestrator backend operates
// against. The cache is the one shared-mutable resource; the HTTP client is
// pooled and safe for concurrent probes; Spawn schedules a background task
// on the dispatcher's runner so shutdown can drain it.
type Env struct {
	Cache    *cache.Cache
	Client   *http.Client
	Logger   *slog.Logger
	Spawn    func(func())
	Interval time.Duration
}

// PollInterval returns the configured probe interval, defaulting when unset.
func (e Env) PollInterval() time.Duration {
	if e.Interval <= 0 {
		return DefaultPollInterval
	}
	return e.Interval
}

// Backend is the capability interface every orchestrator implementation
// provides for one service at a time. Implementations must never hold the
// cache lock across subprocess, network, or disk I/O.
type Backend interface {
	// Setup verifies the external tool is installed, merges the override
	// onto the default configuration, writes the document under dir as
	// <name>_service.yaml and returns its path. It must not touch the cache.
	Setup(dir, name string, override *model.UserConfig) (string, error)

	// Up brings the named service up: claims the record, runs the external
	// tool's bring-up subcommand, discovers the endpoint from its status
	// output, and spawns a readiness watcher. Returns before the service is
	// observed ready.
	Up(ctx context.Context, env Env, name string, yes bool) error

	// Down clears the record's endpoint and readiness, then runs the
	// external tool's bring-down subcommand. A service that never came up
	// fails unless force is set, in which case the subcommand still runs.
	Down(env Env, name string, yes, force bool) error

	// Status reloads the resolved configuration from disk, re-probes a
	// service that claims to be up (flipping it down on a failed probe),
	// and returns the serialized record snapshot.
	Status(ctx context.Context, env Env, name string, pretty bool) (string, error)

	// Remove deletes the generated configuration file and drops the record
	// from the cache. The service must be fully down.
	Remove(env Env, name string) error

	// Update refreshes a running service in place.
	Update(env Env, name string) error

	// ReadyMarker is the fixed substring a readiness probe response
	// contains while the backend's replicas are not yet serving traffic.
	ReadyMarker() string
}
