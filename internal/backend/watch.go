package backend

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/seantiz/servicing/internal/model"
	"github.com/seantiz/servicing/internal/svcerr"
)

// WatchReadiness spawns a background task that polls the service's
// readiness endpoint until the not-ready marker disappears from the
// response, then flips the record up. The task is advisory: a transport
// error is logged and ends the watch, never retried. Each iteration
// revalidates the record against the cache, so a concurrent down or remove
// makes the watch exit silently on its next pass.
func WatchReadiness(env Env, name, endpoint, probe, marker string) {
	watchID := model.NewID()
	url := fmt.Sprintf("http://%s%s", endpoint, probe)
	interval := env.PollInterval()

	env.Spawn(func() {
		start := time.Now()
		for {
			live, err := recordMatches(env, name, endpoint)
			if err != nil {
				env.Logger.Error("readiness watch: cache error", "service", name, "watch_id", watchID, "error", err)
				readinessPolls.WithLabelValues(pollGone).Inc()
				return
			}
			if !live {
				env.Logger.Info("readiness watch: record gone or changed, stopping", "service", name, "watch_id", watchID)
				readinessPolls.WithLabelValues(pollGone).Inc()
				return
			}

			body, err := fetch(env, url)
			if err != nil {
				env.Logger.Error("readiness watch: probe failed", "service", name, "watch_id", watchID, "url", url, "error", err)
				readinessPolls.WithLabelValues(pollError).Inc()
				return
			}

			if strings.Contains(strings.ToLower(body), marker) {
				readinessPolls.WithLabelValues(pollNotReady).Inc()
				time.Sleep(interval)
				continue
			}

			err = env.Cache.Update(name, func(svc *model.Service) error {
				if svc.Endpoint == nil || *svc.Endpoint != endpoint {
					return svcerr.General(name, "endpoint changed during watch")
				}
				svc.Up = true
				return nil
			})
			if err != nil {
				env.Logger.Warn("readiness watch: record vanished before ready", "service", name, "watch_id", watchID, "error", err)
				readinessPolls.WithLabelValues(pollGone).Inc()
				return
			}

			env.Logger.Info("service is up", "service", name, "watch_id", watchID, "ready_after_ms", time.Since(start).Milliseconds())
			readinessPolls.WithLabelValues(pollReady).Inc()
			readyDuration.Observe(time.Since(start).Seconds())
			return
		}
	})
}

// recordMatches reports whether the named record still exists with the
// endpoint the watch was spawned for and has not already been marked up.
func recordMatches(env Env, name, endpoint string) (bool, error) {
	svc, err := env.Cache.Get(name)
	if err != nil {
		if svcerr.KindOf(err) == svcerr.KindNotFound {
			return false, nil
		}
		return false, err
	}
	if svc.Up {
		return false, nil
	}
	return svc.Endpoint != nil && *svc.Endpoint == endpoint, nil
}

// fetch performs one probe request and returns the response body.
func fetch(env Env, url string) (string, error) {
	resp, err := env.Client.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
