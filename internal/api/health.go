package api

import (
	"net/http"
	"time"
)

type HealthOptions struct {
	Version       string
	StartedAt     time.Time
	StorageDriver string
}

type healthResponse struct {
	Status        string    `json:"status"`
	Version       string    `json:"version"`
	StartedAt     time.Time `json:"started_at"`
	UptimeSec     int64     `json:"uptime_sec"`
	StorageDriver string    `json:"storage_driver"`
}

// HealthHandler reports liveness. It does not touch the stores.
func HealthHandler(options HealthOptions) http.Handler {
	startedAt := options.StartedAt.UTC()
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, healthResponse{
			Status:        "ok",
			Version:       options.Version,
			StartedAt:     startedAt,
			UptimeSec:     int64(time.Since(startedAt) / time.Second),
			StorageDriver: options.StorageDriver,
		})
	})
}
