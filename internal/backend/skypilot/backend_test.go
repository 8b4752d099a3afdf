package skypilot_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/seantiz/servicing/internal/backend"
	"github.com/seantiz/servicing/internal/backend/skypilot"
	"github.com/seantiz/servicing/internal/cache"
	"github.com/seantiz/servicing/internal/model"
	"github.com/seantiz/servicing/internal/svcerr"
)

// fakeRunner substitutes for the sky binary.
type fakeRunner struct {
	mu        sync.Mutex
	lookErr   error
	runErr    error
	runDelay  time.Duration
	output    []byte
	outputErr error

	runCalls    [][]string
	outputCalls [][]string
}

func (f *fakeRunner) LookPath(string) error { return f.lookErr }

func (f *fakeRunner) Run(_ context.Context, _ string, args ...string) error {
	f.mu.Lock()
	f.runCalls = append(f.runCalls, args)
	delay := f.runDelay
	err := f.runErr
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return err
}

func (f *fakeRunner) Output(_ context.Context, _ string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outputCalls = append(f.outputCalls, args)
	return f.output, f.outputErr
}

func (f *fakeRunner) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runCalls)
}

func newBackend(t *testing.T, r skypilot.Runner) *skypilot.Backend {
	t.Helper()
	b := skypilot.NewWithRunner(r)
	b.SetLogOutput(io.Discard)
	return b
}

func newEnv(c *cache.Cache) (backend.Env, *sync.WaitGroup) {
	wg := &sync.WaitGroup{}
	env := backend.Env{
		Cache:  c,
		Client: &http.Client{Timeout: 200 * time.Millisecond},
		Logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
		Spawn: func(fn func()) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				fn()
			}()
		},
		Interval: 10 * time.Millisecond,
	}
	return env, wg
}

func registered(t *testing.T, c *cache.Cache, name, configPath string) {
	t.Helper()
	err := c.Insert(&model.Service{
		Name:           name,
		Backend:        model.BackendSkyPilot,
		ConfigPath:     configPath,
		ReadinessProbe: model.DefaultReadinessProbe,
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
}

func TestSetupWritesDocument(t *testing.T) {
	dir := t.TempDir()
	b := newBackend(t, &fakeRunner{})

	port := uint16(9000)
	path, err := b.Setup(dir, "api", &model.UserConfig{Port: &port})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if path != filepath.Join(dir, "api_service.yaml") {
		t.Errorf("path = %q", path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	doc := string(raw)
	if !strings.Contains(doc, "ports: 9000") {
		t.Errorf("document missing merged port:\n%s", doc)
	}
	if strings.Contains(doc, "accelerators") {
		t.Errorf("document mentions unset accelerators:\n%s", doc)
	}
}

func TestSetupBackendMissing(t *testing.T) {
	b := newBackend(t, &fakeRunner{lookErr: errors.New("not found")})

	_, err := b.Setup(t.TempDir(), "api", nil)
	if svcerr.KindOf(err) != svcerr.KindBackendMissing {
		t.Errorf("kind = %q, want %q", svcerr.KindOf(err), svcerr.KindBackendMissing)
	}
}

func TestUpHappyPath(t *testing.T) {
	r := &fakeRunner{output: []byte("NAME  ENDPOINT\napi   127.0.0.1:1\n")}
	b := newBackend(t, r)
	c := cache.New()
	registered(t, c, "api", "/tmp/api_service.yaml")
	env, wg := newEnv(c)

	if err := b.Up(context.Background(), env, "api", true); err != nil {
		t.Fatalf("Up: %v", err)
	}
	wg.Wait() // the watcher exits on the refused probe

	svc, err := c.Get("api")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if svc.Endpoint == nil || *svc.Endpoint != "127.0.0.1:1" {
		t.Errorf("Endpoint = %v, want 127.0.0.1:1", svc.Endpoint)
	}
	if svc.Up {
		t.Error("Up must stay false until a readiness probe succeeds")
	}
	if svc.Provisioning {
		t.Error("claim should be released after endpoint discovery")
	}

	if r.runCount() != 1 {
		t.Fatalf("run count = %d, want 1", r.runCount())
	}
	wantArgs := []string{"serve", "up", "-n", "api", "/tmp/api_service.yaml", "-y"}
	if got := strings.Join(r.runCalls[0], " "); got != strings.Join(wantArgs, " ") {
		t.Errorf("args = %q, want %q", got, strings.Join(wantArgs, " "))
	}
}

func TestUpBecomesReadyWhenMarkerClears(t *testing.T) {
	ready := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		select {
		case <-ready:
			fmt.Fprintln(w, "ok")
		default:
			fmt.Fprintln(w, "no ready replicas")
		}
	}))
	defer ts.Close()
	endpoint := ts.Listener.Addr().String()

	r := &fakeRunner{output: []byte("api " + endpoint + "\n")}
	b := newBackend(t, r)
	c := cache.New()
	registered(t, c, "api", "/tmp/api_service.yaml")
	env, wg := newEnv(c)

	if err := b.Up(context.Background(), env, "api", true); err != nil {
		t.Fatalf("Up: %v", err)
	}

	svc, _ := c.Get("api")
	if svc.Up {
		t.Fatal("service reported ready before the marker cleared")
	}

	close(ready)
	wg.Wait()

	svc, _ = c.Get("api")
	if !svc.Up {
		t.Error("service should be up after the marker cleared")
	}
}

func TestUpMissingRecord(t *testing.T) {
	b := newBackend(t, &fakeRunner{})
	env, _ := newEnv(cache.New())

	err := b.Up(context.Background(), env, "missing", true)
	if svcerr.KindOf(err) != svcerr.KindNotFound {
		t.Errorf("kind = %q, want %q", svcerr.KindOf(err), svcerr.KindNotFound)
	}
}

func TestUpAlreadyRunning(t *testing.T) {
	r := &fakeRunner{}
	b := newBackend(t, r)
	c := cache.New()
	endpoint := "10.0.0.5:30000"
	if err := c.Insert(&model.Service{Name: "api", Backend: model.BackendSkyPilot, ConfigPath: "/tmp/x.yaml", ReadinessProbe: "/", Endpoint: &endpoint}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	env, _ := newEnv(c)

	err := b.Up(context.Background(), env, "api", true)
	if svcerr.KindOf(err) != svcerr.KindAlreadyRunning {
		t.Errorf("kind = %q, want %q", svcerr.KindOf(err), svcerr.KindAlreadyRunning)
	}
	if r.runCount() != 0 {
		t.Errorf("subprocess launched despite running service")
	}
}

func TestUpSubprocessFailureReleasesClaim(t *testing.T) {
	r := &fakeRunner{runErr: errors.New("exit status 1")}
	b := newBackend(t, r)
	c := cache.New()
	registered(t, c, "api", "/tmp/api_service.yaml")
	env, _ := newEnv(c)

	err := b.Up(context.Background(), env, "api", true)
	if svcerr.KindOf(err) != svcerr.KindProvision {
		t.Fatalf("kind = %q, want %q", svcerr.KindOf(err), svcerr.KindProvision)
	}

	svc, _ := c.Get("api")
	if svc.Provisioning {
		t.Error("claim must be released after a failed launch")
	}
	if svc.Endpoint != nil {
		t.Error("no endpoint should be stored after a failed launch")
	}
}

func TestUpNoEndpointInStatusOutput(t *testing.T) {
	r := &fakeRunner{output: []byte("No services found.\n")}
	b := newBackend(t, r)
	c := cache.New()
	registered(t, c, "api", "/tmp/api_service.yaml")
	env, _ := newEnv(c)

	err := b.Up(context.Background(), env, "api", true)
	if svcerr.KindOf(err) != svcerr.KindGeneral {
		t.Errorf("kind = %q, want %q", svcerr.KindOf(err), svcerr.KindGeneral)
	}

	svc, _ := c.Get("api")
	if svc.Provisioning {
		t.Error("claim must be released when endpoint parsing fails")
	}
}

func TestUpConcurrentSameNameLaunchesOnce(t *testing.T) {
	r := &fakeRunner{runDelay: 50 * time.Millisecond, output: []byte("api 127.0.0.1:1\n")}
	b := newBackend(t, r)
	c := cache.New()
	registered(t, c, "api", "/tmp/api_service.yaml")
	env, wg := newEnv(c)

	errs := make(chan error, 2)
	var calls sync.WaitGroup
	for i := 0; i < 2; i++ {
		calls.Add(1)
		go func() {
			defer calls.Done()
			errs <- b.Up(context.Background(), env, "api", true)
		}()
	}
	calls.Wait()
	wg.Wait()
	close(errs)

	var okCount, alreadyCount int
	for err := range errs {
		switch {
		case err == nil:
			okCount++
		case svcerr.KindOf(err) == svcerr.KindAlreadyRunning:
			alreadyCount++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if okCount != 1 || alreadyCount != 1 {
		t.Errorf("ok = %d, already = %d, want 1 and 1", okCount, alreadyCount)
	}
	if r.runCount() != 1 {
		t.Errorf("subprocess launches = %d, want exactly 1", r.runCount())
	}
}

// barrierRunner blocks every launch until two launches are in flight. A
// cache lock held across the subprocess would keep the second launch from
// ever starting and fail the barrier.
type barrierRunner struct {
	fakeRunner
	ready   chan struct{}
	arrived atomic.Int32
}

func (b *barrierRunner) Run(ctx context.Context, bin string, args ...string) error {
	if b.arrived.Add(1) == 2 {
		close(b.ready)
	}
	select {
	case <-b.ready:
	case <-time.After(5 * time.Second):
		return errors.New("second launch never entered")
	}
	return b.fakeRunner.Run(ctx, bin, args...)
}

func TestUpDistinctNamesRunConcurrently(t *testing.T) {
	r := &barrierRunner{ready: make(chan struct{})}
	r.output = []byte("NAME  ENDPOINT\nsvc   127.0.0.1:1\n")
	b := newBackend(t, r)
	c := cache.New()
	registered(t, c, "api", "/tmp/api_service.yaml")
	registered(t, c, "worker", "/tmp/worker_service.yaml")
	env, wg := newEnv(c)

	errs := make(chan error, 2)
	var calls sync.WaitGroup
	for _, name := range []string{"api", "worker"} {
		name := name
		calls.Add(1)
		go func() {
			defer calls.Done()
			errs <- b.Up(context.Background(), env, name, true)
		}()
	}
	calls.Wait()
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Up: %v", err)
		}
	}
	for _, name := range []string{"api", "worker"} {
		svc, err := c.Get(name)
		if err != nil {
			t.Fatalf("Get(%s): %v", name, err)
		}
		if svc.Endpoint == nil {
			t.Errorf("%s has no endpoint after up", name)
		}
	}
}

func TestDownClearsFieldsAndRunsSubcommand(t *testing.T) {
	r := &fakeRunner{}
	b := newBackend(t, r)
	c := cache.New()
	endpoint := "10.0.0.5:30000"
	if err := c.Insert(&model.Service{Name: "api", Backend: model.BackendSkyPilot, ReadinessProbe: "/", Endpoint: &endpoint, Up: true}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	env, _ := newEnv(c)

	if err := b.Down(env, "api", true, false); err != nil {
		t.Fatalf("Down: %v", err)
	}

	svc, _ := c.Get("api")
	if svc.Up || svc.Endpoint != nil {
		t.Errorf("record not cleared: %+v", svc)
	}
	if r.runCount() != 1 {
		t.Fatalf("run count = %d, want 1", r.runCount())
	}
	if got := strings.Join(r.runCalls[0], " "); got != "serve down api -y" {
		t.Errorf("args = %q, want %q", got, "serve down api -y")
	}
}

func TestDownNeverUpFailsWithoutForce(t *testing.T) {
	r := &fakeRunner{}
	b := newBackend(t, r)
	c := cache.New()
	registered(t, c, "api", "/tmp/api_service.yaml")
	env, _ := newEnv(c)

	err := b.Down(env, "api", true, false)
	if svcerr.KindOf(err) != svcerr.KindNotRunning {
		t.Errorf("kind = %q, want %q", svcerr.KindOf(err), svcerr.KindNotRunning)
	}
	if r.runCount() != 0 {
		t.Error("subcommand must not run without force")
	}
}

func TestDownForceStillAttemptsSubcommand(t *testing.T) {
	r := &fakeRunner{}
	b := newBackend(t, r)
	c := cache.New()
	registered(t, c, "api", "/tmp/api_service.yaml")
	env, _ := newEnv(c)

	if err := b.Down(env, "api", true, true); err != nil {
		t.Fatalf("Down with force: %v", err)
	}
	if r.runCount() != 1 {
		t.Errorf("run count = %d, want 1", r.runCount())
	}
}

func TestDownSubprocessFailurePropagates(t *testing.T) {
	r := &fakeRunner{runErr: errors.New("exit status 1")}
	b := newBackend(t, r)
	c := cache.New()
	endpoint := "10.0.0.5:30000"
	if err := c.Insert(&model.Service{Name: "api", Backend: model.BackendSkyPilot, ReadinessProbe: "/", Endpoint: &endpoint, Up: true}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	env, _ := newEnv(c)

	err := b.Down(env, "api", true, false)
	if svcerr.KindOf(err) != svcerr.KindProvision {
		t.Errorf("kind = %q, want %q", svcerr.KindOf(err), svcerr.KindProvision)
	}

	// The record is cleared before the subcommand runs.
	svc, _ := c.Get("api")
	if svc.Up || svc.Endpoint != nil {
		t.Errorf("record not cleared: %+v", svc)
	}
}

func TestStatusMissingRecord(t *testing.T) {
	b := newBackend(t, &fakeRunner{})
	env, _ := newEnv(cache.New())

	_, err := b.Status(context.Background(), env, "missing", false)
	if svcerr.KindOf(err) != svcerr.KindNotFound {
		t.Errorf("kind = %q, want %q", svcerr.KindOf(err), svcerr.KindNotFound)
	}
}

// setupService writes a real configuration document and registers the record.
func setupService(t *testing.T, b *skypilot.Backend, c *cache.Cache, name string) string {
	t.Helper()
	path, err := b.Setup(t.TempDir(), name, nil)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	registered(t, c, name, path)
	return path
}

func TestStatusSelfHealsDriftedRecord(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "no ready replicas") // default probe path is /health
	}))
	defer ts.Close()
	endpoint := ts.Listener.Addr().String()

	b := newBackend(t, &fakeRunner{})
	c := cache.New()
	setupService(t, b, c, "api")
	err := c.Update("api", func(svc *model.Service) error {
		svc.Endpoint = &endpoint
		svc.Up = true
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	env, _ := newEnv(c)

	snapshot, err := b.Status(context.Background(), env, "api", false)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !strings.Contains(snapshot, `"up":false`) {
		t.Errorf("snapshot should report up=false after a not-ready probe:\n%s", snapshot)
	}

	svc, _ := c.Get("api")
	if svc.Up {
		t.Error("record should be flipped down by the failed probe")
	}
}

func TestStatusKeepsHealthyRecordUp(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "all replicas ready")
	}))
	defer ts.Close()
	endpoint := ts.Listener.Addr().String()

	b := newBackend(t, &fakeRunner{})
	c := cache.New()
	setupService(t, b, c, "api")
	err := c.Update("api", func(svc *model.Service) error {
		svc.Endpoint = &endpoint
		svc.Up = true
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	env, _ := newEnv(c)

	snapshot, err := b.Status(context.Background(), env, "api", false)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !strings.Contains(snapshot, `"up":true`) {
		t.Errorf("snapshot should keep up=true:\n%s", snapshot)
	}
}

func TestStatusPrettyPrints(t *testing.T) {
	b := newBackend(t, &fakeRunner{})
	c := cache.New()
	setupService(t, b, c, "api")
	env, _ := newEnv(c)

	plain, err := b.Status(context.Background(), env, "api", false)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	pretty, err := b.Status(context.Background(), env, "api", true)
	if err != nil {
		t.Fatalf("Status pretty: %v", err)
	}

	if strings.Contains(plain, "\n  ") {
		t.Error("plain snapshot should not be indented")
	}
	if !strings.Contains(pretty, "\n  ") {
		t.Error("pretty snapshot should be indented")
	}
	if !strings.Contains(pretty, `"status"`) {
		t.Errorf("snapshot missing derived status:\n%s", pretty)
	}
}

func TestRemoveRefusesLiveService(t *testing.T) {
	b := newBackend(t, &fakeRunner{})
	c := cache.New()
	endpoint := "10.0.0.5:30000"

	if err := c.Insert(&model.Service{Name: "up-svc", Backend: model.BackendSkyPilot, ReadinessProbe: "/", Endpoint: &endpoint, Up: true}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := c.Insert(&model.Service{Name: "starting-svc", Backend: model.BackendSkyPilot, ReadinessProbe: "/", Endpoint: &endpoint}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	env, _ := newEnv(c)

	for _, name := range []string{"up-svc", "starting-svc"} {
		err := b.Remove(env, name)
		if svcerr.KindOf(err) != svcerr.KindProvision {
			t.Errorf("Remove(%s) kind = %q, want %q", name, svcerr.KindOf(err), svcerr.KindProvision)
		}
		if _, err := c.Get(name); err != nil {
			t.Errorf("record %s must survive a refused remove", name)
		}
	}
}

func TestRemoveDeletesFileThenRecord(t *testing.T) {
	b := newBackend(t, &fakeRunner{})
	c := cache.New()
	path := setupService(t, b, c, "api")
	env, _ := newEnv(c)

	if err := b.Remove(env, "api"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("configuration file should be deleted")
	}
	if _, err := c.Get("api"); svcerr.KindOf(err) != svcerr.KindNotFound {
		t.Error("record should be removed from the cache")
	}
}

func TestReadyMarker(t *testing.T) {
	b := newBackend(t, &fakeRunner{})
	if got := b.ReadyMarker(); got != "no ready replicas" {
		t.Errorf("ReadyMarker = %q", got)
	}
}
