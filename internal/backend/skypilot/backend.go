// Package skypilot implements the orchestrator backend on top of the
// SkyPilot command-line tool, invoked as a black-box subprocess.
package skypilot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/seantiz/servicing/internal/backend"
	"github.com/seantiz/servicing/internal/model"
	"github.com/seantiz/servicing/internal/svcerr"
)

const (
	// tool is the SkyPilot CLI binary invoked for every provisioning action.
	tool = "sky"

	// configSuffix is appended to the service name for the generated
	// configuration document.
	configSuffix = "_service.yaml"

	// readyMarker is the substring SkyPilot serves from the readiness
	// endpoint while the replica set is not yet ready.
	readyMarker = "no ready replicas"
)

// endpointPattern extracts the live IPv4 host:port token from the status
// subcommand's human-readable output.
var endpointPattern = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}:\d+\b`)

// Compile-time interface satisfaction check.
var _ backend.Backend = (*Backend)(nil)

// Backend drives SkyPilot for one service at a time. It is stateless apart
// from its runner and logger; all service state lives in the shared cache.
type Backend struct {
	runner Runner
	log    *logrus.Logger
}

// New creates a SkyPilot backend using the real sky binary.
func New() *Backend {
	return NewWithRunner(execRunner{})
}

// NewWithRunner creates a SkyPilot backend with a custom command runner.
func NewWithRunner(r Runner) *Backend {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &Backend{runner: r, log: log}
}

// SetLogOutput redirects the backend's subprocess log, used by tests.
func (b *Backend) SetLogOutput(w io.Writer) {
	b.log.SetOutput(w)
}

// Setup verifies sky is installed, merges the override onto the defaults,
// and writes the resulting document to <dir>/<name>_service.yaml.
func (b *Backend) Setup(dir, name string, override *model.UserConfig) (string, error) {
	if err := b.runner.LookPath(tool); err != nil {
		return "", svcerr.BackendMissing(tool)
	}

	cfg := model.DefaultConfiguration()
	cfg.Merge(override)

	doc, err := cfg.MarshalDocument()
	if err != nil {
		return "", svcerr.Serialization("encode configuration for "+name, err)
	}

	path := filepath.Join(dir, name+configSuffix)
	if err := os.WriteFile(path, doc, 0o644); err != nil {
		return "", svcerr.IO(name, "write configuration file", err)
	}

	b.log.WithFields(logrus.Fields{"service": name, "path": path}).Info("configuration written")
	return path, nil
}

// Up launches the service through sky serve up, discovers its endpoint from
// sky serve status, and spawns the readiness watcher. The cache lock is
// never held across a subprocess call: the record is claimed first, the
// claim released again if anything fails.
func (b *Backend) Up(ctx context.Context, env backend.Env, name string, yes bool) (err error) {
	var configPath, probe string
	claimErr := env.Cache.Update(name, func(svc *model.Service) error {
		if svc.Endpoint != nil || svc.Provisioning {
			return svcerr.AlreadyRunning(name)
		}
		if svc.ConfigPath == "" {
			return svcerr.General(name, "no configuration file, setup did not complete")
		}
		svc.Provisioning = true
		configPath = svc.ConfigPath
		probe = svc.ReadinessProbe
		return nil
	})
	if claimErr != nil {
		return claimErr
	}

	defer func() {
		if err != nil {
			releaseErr := env.Cache.Update(name, func(svc *model.Service) error {
				svc.Provisioning = false
				return nil
			})
			if releaseErr != nil {
				env.Logger.Error("release provisioning claim", "service", name, "error", releaseErr)
			}
		}
	}()

	args := []string{"serve", "up", "-n", name, configPath}
	if yes {
		args = append(args, "-y")
	}

	b.log.WithFields(logrus.Fields{"service": name, "config": configPath}).Info("launching service")
	start := time.Now()

	if err := b.runner.Run(ctx, tool, args...); err != nil {
		launchesTotal.WithLabelValues(launchFailed).Inc()
		return svcerr.Provision(name, "sky serve up failed", err)
	}

	out, err := b.runner.Output(ctx, tool, "serve", "status", name)
	if err != nil {
		launchesTotal.WithLabelValues(launchFailed).Inc()
		return svcerr.Provision(name, "sky serve status failed", err)
	}

	matched := endpointPattern.Find(out)
	if matched == nil {
		launchesTotal.WithLabelValues(launchFailed).Inc()
		return svcerr.General(name, "no endpoint in sky serve status output")
	}
	endpoint := string(matched)

	storeErr := env.Cache.Update(name, func(svc *model.Service) error {
		svc.Endpoint = &endpoint
		svc.Provisioning = false
		return nil
	})
	if storeErr != nil {
		return storeErr
	}

	launchesTotal.WithLabelValues(launchOK).Inc()
	launchDuration.Observe(time.Since(start).Seconds())
	b.log.WithFields(logrus.Fields{"service": name, "endpoint": endpoint}).Info("service launched")

	backend.WatchReadiness(env, name, endpoint, probe, b.ReadyMarker())
	return nil
}

// Down clears the record's endpoint and readiness under the lock, then
// tears the service down through sky serve down. A record that never
// reached up or has-endpoint fails unless force is set; with force the
// subcommand still runs so a half-provisioned cluster gets torn down.
func (b *Backend) Down(env backend.Env, name string, yes, force bool) error {
	wasLive := false
	err := env.Cache.Update(name, func(svc *model.Service) error {
		if svc.Up || svc.Endpoint != nil {
			wasLive = true
			svc.Endpoint = nil
			svc.Up = false
		}
		if force {
			svc.Provisioning = false
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !wasLive && !force {
		return svcerr.NotRunning(name)
	}

	args := []string{"serve", "down", name}
	if yes {
		args = append(args, "-y")
	}

	b.log.WithField("service", name).Info("tearing down service")
	if err := b.runner.Run(context.Background(), tool, args...); err != nil {
		return svcerr.Provision(name, "sky serve down failed", err)
	}
	return nil
}

// statusSnapshot is the serialized form returned by Status: the record, its
// derived lifecycle state, and the resolved configuration reloaded from the
// on-disk document.
type statusSnapshot struct {
	model.Service
	Status   string              `json:"status"`
	Resolved model.Configuration `json:"resolved"`
}

// Status reloads the resolved configuration from the service's on-disk
// document and, when the record claims readiness, performs one synchronous
// probe. A failed or not-ready probe flips the record down before the
// snapshot is serialized.
func (b *Backend) Status(ctx context.Context, env backend.Env, name string, pretty bool) (string, error) {
	svc, err := env.Cache.Get(name)
	if err != nil {
		return "", err
	}

	if svc.ConfigPath == "" {
		return "", svcerr.General(name, "no configuration file, setup did not complete")
	}
	raw, err := os.ReadFile(svc.ConfigPath)
	if err != nil {
		return "", svcerr.IO(name, "read configuration file", err)
	}
	cfg, err := model.UnmarshalDocument(raw)
	if err != nil {
		return "", svcerr.Serialization("decode configuration for "+name, err)
	}

	if svc.Up && svc.Endpoint != nil {
		if probeErr := b.probeOnce(ctx, env, *svc.Endpoint, cfg.Service.ReadinessProbe); probeErr != nil {
			b.log.WithField("service", name).WithError(probeErr).Warn("service no longer ready")
			err := env.Cache.Update(name, func(rec *model.Service) error {
				rec.Up = false
				return nil
			})
			if err != nil {
				return "", err
			}
			svc.Up = false
		}
	}

	snap := statusSnapshot{Service: svc, Status: svc.Status(), Resolved: cfg}
	var data []byte
	if pretty {
		data, err = json.MarshalIndent(snap, "", "  ")
	} else {
		data, err = json.Marshal(snap)
	}
	if err != nil {
		return "", svcerr.Serialization("encode status for "+name, err)
	}
	return string(data), nil
}

// probeOnce performs a single readiness check and fails when the endpoint
// is unreachable or still reports the not-ready marker.
func (b *Backend) probeOnce(ctx context.Context, env backend.Env, endpoint, probe string) error {
	url := fmt.Sprintf("http://%s%s", endpoint, probe)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := env.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if strings.Contains(strings.ToLower(string(body)), b.ReadyMarker()) {
		return errors.New("replicas not ready")
	}
	return nil
}

// Remove deletes the generated configuration file and drops the record.
// The cache entry is removed last, so a failed file delete leaves the
// record intact for a retry.
func (b *Backend) Remove(env backend.Env, name string) error {
	svc, err := env.Cache.Get(name)
	if err != nil {
		return err
	}
	if svc.Up {
		return svcerr.Provision(name, "service is still up, bring it down first", nil)
	}
	if svc.Endpoint != nil {
		return svcerr.Provision(name, "service is starting, bring it down first", nil)
	}

	if svc.ConfigPath != "" {
		if err := os.Remove(svc.ConfigPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return svcerr.IO(name, "delete configuration file", err)
		}
	}

	return env.Cache.Remove(name)
}

// Update refreshes a running service in place. SkyPilot has no in-place
// update path today, so this is a recorded no-op.
func (b *Backend) Update(_ backend.Env, name string) error {
	b.log.WithField("service", name).Info("update is a no-op for skypilot")
	return nil
}

// ReadyMarker returns the substring present in probe responses while the
// replica set is not yet serving traffic.
func (b *Backend) ReadyMarker() string {
	return readyMarker
}
