package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/dcastellanos/ordergate-backend/api/responses"
	"github.com/dcastellanos/ordergate-backend/pkg/config"
	pkgerrors "github.com/dcastellanos/ordergate-backend/pkg/errors"
	"github.com/dcastellanos/ordergate-backend/pkg/logger"
)

// Pinger is the readiness contract every wired dependency satisfies.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-OrderGate-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every wired dependency. Nil entries are skipped so a
// process that does not carry a given client can reuse the same handler.
func HealthReady(cfg *config.Config, logg *logger.Logger, checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-OrderGate-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		statuses := map[string]string{}
		for name, check := range checks {
			if check == nil {
				continue
			}
			if err := check.Ping(ctx); err != nil {
				statuses[name] = "unavailable"
				responses.WriteError(ctx, logg, w,
					pkgerrors.Wrap(pkgerrors.CodeDependency, err, name+" unavailable").WithDetails(statuses))
				return
			}
			statuses[name] = "ok"
		}

		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": statuses})
	}
}
