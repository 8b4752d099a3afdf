package dispatch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/seantiz/servicing/internal/backend"
	"github.com/seantiz/servicing/internal/cache"
	"github.com/seantiz/servicing/internal/model"
	"github.com/seantiz/servicing/internal/store"
	"github.com/seantiz/servicing/internal/svcerr"
)

const (
	// CacheFileName is the persisted-cache file written under the root
	// directory by Save and read back by Load.
	CacheFileName = "services.bin"

	// clientTimeout bounds every outbound probe and status request.
	clientTimeout = 10 * time.Second

	// auditTimeout bounds the best-effort audit write per operation.
	auditTimeout = time.Second
)

// Operation names recorded in the audit trail.
const (
	opAdd    = "add_service"
	opRemove = "remove_service"
	opUp     = "up"
	opDown   = "down"
	opStatus = "status"
	opSave   = "save"
	opLoad   = "load"
	opImport = "import"
	opExport = "export"
)

// Options configures a Dispatcher beyond its required collaborators.
type Options struct {
	// RootDir is where generated configuration documents and the persisted
	// cache live. Required.
	RootDir string

	// Store receives the operation audit trail. Optional; nil disables
	// auditing.
	Store store.Store

	// PollInterval overrides the readiness probe interval. Zero keeps the
	// backend default.
	PollInterval time.Duration

	// Client overrides the outbound HTTP client, used by tests.
	Client *http.Client
}

// Dispatcher is the façade callers drive. It owns the shared cache, the
// pooled outbound HTTP client, the backend registry, and the task runner
// that carries every background readiness watch.
type Dispatcher struct {
	cache    *cache.Cache
	registry *backend.Registry
	client   *http.Client
	store    store.Store
	logger   *slog.Logger
	rootDir  string
	interval time.Duration
	wg       sync.WaitGroup
}

// New creates a dispatcher. The cache is injected rather than global: the
// first constructed dispatcher owns whatever cache it is handed, and every
// background task holds a reference to that same cache.
func New(c *cache.Cache, reg *backend.Registry, logger *slog.Logger, opts Options) *Dispatcher {
	client := opts.Client
	if client == nil {
		// Keep-alives are disabled so no idle connections linger toward
		// ephemeral cloud endpoints that come and go between polls.
		client = &http.Client{
			Timeout:   clientTimeout,
			Transport: &http.Transport{DisableKeepAlives: true},
		}
	}

	return &Dispatcher{
		cache:    c,
		registry: reg,
		client:   client,
		store:    opts.Store,
		logger:   logger,
		rootDir:  opts.RootDir,
		interval: opts.PollInterval,
	}
}

// Wait blocks until every spawned background task has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// env bundles the shared resources handed to backend operations.
func (d *Dispatcher) env() backend.Env {
	return backend.Env{
		Cache:  d.cache,
		Client: d.client,
		Logger: d.logger,
		Spawn: func(fn func()) {
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				fn()
			}()
		},
		Interval: d.interval,
	}
}

// AddService registers a new service: runs the backend's setup to generate
// its configuration document, then inserts the record. The record starts
// registered, probe path "/", no endpoint.
func (d *Dispatcher) AddService(name, kind string, override *model.UserConfig) (err error) {
	defer d.record(opAdd, name, time.Now())(&err)

	b, err := d.registry.Resolve(kind)
	if err != nil {
		return err
	}

	if _, getErr := d.cache.Get(name); getErr == nil {
		return svcerr.General(name, "already registered")
	} else if svcerr.KindOf(getErr) != svcerr.KindNotFound {
		return getErr
	}

	if err := os.MkdirAll(d.rootDir, 0o755); err != nil {
		return svcerr.IO(name, "create root directory", err)
	}

	path, err := b.Setup(d.rootDir, name, override)
	if err != nil {
		return err
	}

	return d.cache.Insert(&model.Service{
		Name:           name,
		Config:         override,
		Backend:        kind,
		ConfigPath:     path,
		ReadinessProbe: model.DefaultReadinessProbe,
	})
}

// RemoveService destroys the named service's record and generated
// configuration file. The service must be fully down.
func (d *Dispatcher) RemoveService(name string) (err error) {
	defer d.record(opRemove, name, time.Now())(&err)

	b, err := d.resolveFor(name)
	if err != nil {
		return err
	}
	return b.Remove(d.env(), name)
}

// Up brings the named service up. It returns once the endpoint is known;
// readiness is observed asynchronously by the spawned watcher.
func (d *Dispatcher) Up(ctx context.Context, name string, yes bool) (err error) {
	defer d.record(opUp, name, time.Now())(&err)

	b, err := d.resolveFor(name)
	if err != nil {
		return err
	}
	return b.Up(ctx, d.env(), name, yes)
}

// Down tears the named service down. force attempts the teardown even for a
// service that never came up.
func (d *Dispatcher) Down(name string, yes, force bool) (err error) {
	defer d.record(opDown, name, time.Now())(&err)

	b, err := d.resolveFor(name)
	if err != nil {
		return err
	}
	return b.Down(d.env(), name, yes, force)
}

// Status returns the serialized snapshot of the named service, optionally
// pretty-printed.
func (d *Dispatcher) Status(ctx context.Context, name string, pretty bool) (out string, err error) {
	defer d.record(opStatus, name, time.Now())(&err)

	b, err := d.resolveFor(name)
	if err != nil {
		return "", err
	}
	return b.Status(ctx, d.env(), name, pretty)
}

// Save writes the binary cache snapshot to location, defaulting to the
// dispatcher's root directory. The snapshot is taken under the lock; the
// file write happens after it is released.
func (d *Dispatcher) Save(location string) (err error) {
	defer d.record(opSave, "", time.Now())(&err)

	data, err := d.cache.Snapshot()
	if err != nil {
		return err
	}

	dir := location
	if dir == "" {
		dir = d.rootDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return svcerr.IO("", "create cache directory", err)
	}
	if err := os.WriteFile(filepath.Join(dir, CacheFileName), data, 0o644); err != nil {
		return svcerr.IO("", "write cache file", err)
	}
	return nil
}

// SaveAsBase64 returns the cache snapshot as a base64 string for embedding
// in another system's state store.
func (d *Dispatcher) SaveAsBase64() (out string, err error) {
	defer d.record(opExport, "", time.Now())(&err)
	return d.cache.SnapshotBase64()
}

// Load merges the persisted cache at location (default: root directory)
// into the in-memory cache; loaded entries overwrite same-name records.
// With reconcile set, it spawns a readiness watch for every loaded record
// that has an endpoint but was not yet observed up — services may have come
// up while the process was away.
func (d *Dispatcher) Load(location string, reconcile bool) (err error) {
	defer d.record(opLoad, "", time.Now())(&err)

	dir := location
	if dir == "" {
		dir = d.rootDir
	}
	path := filepath.Join(dir, CacheFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return svcerr.IO("", "no persisted cache at "+path, err)
		}
		return svcerr.IO("", "read cache file", err)
	}

	if err := d.cache.Restore(data); err != nil {
		return err
	}

	if reconcile {
		return d.reconcile()
	}
	return nil
}

// LoadFromBase64 merges a base64 payload produced by SaveAsBase64.
func (d *Dispatcher) LoadFromBase64(data string) (err error) {
	defer d.record(opImport, "", time.Now())(&err)
	return d.cache.RestoreBase64(data)
}

// List returns the names of all registered services.
func (d *Dispatcher) List() ([]string, error) {
	return d.cache.Names()
}

// GetURL returns the named service's endpoint, failing when the service is
// down or unknown.
func (d *Dispatcher) GetURL(name string) (string, error) {
	svc, err := d.cache.Get(name)
	if err != nil {
		return "", err
	}
	if svc.Endpoint == nil {
		return "", svcerr.General(name, "service is down")
	}
	return *svc.Endpoint, nil
}

// resolveFor looks up the named record and resolves the backend owning it.
func (d *Dispatcher) resolveFor(name string) (backend.Backend, error) {
	svc, err := d.cache.Get(name)
	if err != nil {
		return nil, err
	}
	return d.registry.Resolve(svc.Backend)
}

// reconcile spawns one readiness watch per record that has an endpoint but
// is not marked up.
func (d *Dispatcher) reconcile() error {
	names, err := d.cache.Names()
	if err != nil {
		return err
	}

	checked := 0
	for _, name := range names {
		svc, err := d.cache.Get(name)
		if err != nil {
			continue
		}
		if svc.Up || svc.Endpoint == nil {
			continue
		}
		b, err := d.registry.Resolve(svc.Backend)
		if err != nil {
			d.logger.Warn("reconcile: unresolvable backend", "service", name, "backend", svc.Backend)
			continue
		}
		backend.WatchReadiness(d.env(), name, *svc.Endpoint, svc.ReadinessProbe, b.ReadyMarker())
		checked++
	}

	d.logger.Info("reconcile: watching services that may have come up", "count", checked)
	return nil
}

// record returns a closure that captures the operation outcome, bumps the
// operation metrics, and best-effort writes one audit row. Audit failures
// are logged, never propagated.
func (d *Dispatcher) record(op, name string, start time.Time) func(*error) {
	return func(errp *error) {
		outcome := model.OutcomeOK
		errText := ""
		if *errp != nil {
			outcome = model.OutcomeError
			errText = (*errp).Error()
		}
		operationsTotal.WithLabelValues(op, outcome).Inc()
		servicesGauge.Set(float64(d.cache.Len()))

		if d.store == nil {
			return
		}
		rec := &model.Operation{
			ID:         model.NewID(),
			Service:    name,
			Op:         op,
			Outcome:    outcome,
			Error:      errText,
			DurationMS: int(time.Since(start).Milliseconds()),
			CreatedAt:  time.Now().UTC(),
		}
		ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
		defer cancel()
		if err := d.store.RecordOperation(ctx, rec); err != nil {
			d.logger.Error("record operation", "op", op, "service", name, "error", err)
		}
	}
}
