// testserver starts a servicing API server with a stubbed sky binary and a
// local fake service endpoint, for exercising the full lifecycle without a
// cloud account. Usage: go run ./cmd/testserver
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/seantiz/servicing/internal/api"
	"github.com/seantiz/servicing/internal/backend"
	"github.com/seantiz/servicing/internal/backend/skypilot"
	"github.com/seantiz/servicing/internal/cache"
	"github.com/seantiz/servicing/internal/dispatch"
	"github.com/seantiz/servicing/internal/model"
	"github.com/seantiz/servicing/internal/store"
)

// stubRunner pretends to be the sky binary. Each up takes a moment, and the
// status output points at the local fake service.
type stubRunner struct {
	endpoint string
}

func (s *stubRunner) LookPath(string) error { return nil }

func (s *stubRunner) Run(_ context.Context, _ string, _ ...string) error {
	time.Sleep(500 * time.Millisecond)
	return nil
}

func (s *stubRunner) Output(_ context.Context, _ string, _ ...string) ([]byte, error) {
	out := fmt.Sprintf("Services\nNAME  VERSION  ENDPOINT\ndemo  1        %s\n", s.endpoint)
	return []byte(out), nil
}

// fakeService serves the not-ready marker for the first few probes, then
// reports healthy.
func fakeService() (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}

	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 3 {
			fmt.Fprintln(w, "no ready replicas")
			return
		}
		fmt.Fprintln(w, "ok")
	})

	go func() {
		if err := http.Serve(ln, mux); err != nil {
			log.Printf("fake service stopped: %v", err)
		}
	}()

	return ln.Addr().String(), nil
}

func main() {
	addr := ":8080"
	if v := os.Getenv("SERVICING_LISTEN_ADDR"); v != "" {
		addr = v
	}

	endpoint, err := fakeService()
	if err != nil {
		log.Fatalf("failed to start fake service: %v", err)
	}

	rootDir, err := os.MkdirTemp("", "servicing-testserver-")
	if err != nil {
		log.Fatalf("failed to create root dir: %v", err)
	}

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	reg := backend.NewRegistry()
	reg.Register(model.BackendSkyPilot, skypilot.NewWithRunner(&stubRunner{endpoint: endpoint}))

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	dispatcher := dispatch.New(cache.New(), reg, logger, dispatch.Options{
		RootDir:      rootDir,
		Store:        db,
		PollInterval: time.Second,
	})

	srv := api.NewServer(addr, dispatcher, reg, db, logger)

	logger.Info("testserver: starting", "addr", addr, "fake_endpoint", endpoint, "root_dir", rootDir)
	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
