package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

type RouterDeps struct {
	Handler       *Handler
	CronAuthToken string
	Logger        *logrus.Entry
}

// NewRouter wires the trigger surface: the health probe is open, everything
// under /internal requires the scheduler secret.
func NewRouter(d RouterDeps) http.Handler {
	if d.Handler == nil {
		panic("httpapi.NewRouter: nil handler")
	}
	if d.CronAuthToken == "" {
		panic("httpapi.NewRouter: empty cron auth token")
	}

	r := chi.NewRouter()

	r.Use(RequestLogger(d.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", d.Handler.Healthz)

	r.Route("/internal/v1", func(r chi.Router) {
		r.Use(CronAuth(d.CronAuthToken))

		// Push-style and pull-style bindings of the same run.
		r.Post("/digests/{cadence}/run", d.Handler.RunPush)
		r.Get("/digests/run", d.Handler.RunPull)

		// Operator retry for FAILED buckets.
		r.Post("/digests/{cadence}/retries", d.Handler.RetryFailed)
	})

	return r
}
