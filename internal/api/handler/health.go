package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/studyhall/studyhall/internal/api/response"
)

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Prober reports whether a remote processing service is ready.
type Prober interface {
	Ready(ctx context.Context) error
}

const healthProbeTimeout = 3 * time.Second

type healthBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// NewHealthHandler returns an http.HandlerFunc for GET /api/v1/health. The
// dependency checks run concurrently; any failure degrades the status but
// the endpoint itself always answers 200.
func NewHealthHandler(db, cache Pinger, services map[string]Prober) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
		defer cancel()

		var mu sync.Mutex
		checks := make(map[string]string)
		record := func(name string, err error) {
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[name] = "unreachable"
				return
			}
			checks[name] = "ok"
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			record("database", db.Ping(ctx))
		}()
		go func() {
			defer wg.Done()
			record("cache", cache.Ping(ctx))
		}()
		for name, svc := range services {
			wg.Add(1)
			go func(name string, svc Prober) {
				defer wg.Done()
				record(name, svc.Ready(ctx))
			}(name, svc)
		}
		wg.Wait()

		status := "ok"
		for _, v := range checks {
			if v != "ok" {
				status = "degraded"
				break
			}
		}

		response.JSON(w, healthBody{Status: status, Checks: checks})
	}
}
