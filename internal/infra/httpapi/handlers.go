package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"event_digest_service/internal/app"
	"event_digest_service/internal/domain/digest"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

// FailedRunRetrier is the operator-facing retry operation.
type FailedRunRetrier interface {
	RetryFailedRuns(ctx context.Context, cadence digest.Cadence, periodBucket string) (*digest.RunSummary, error)
}

// Pinger is the health-check dependency (database connectivity).
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	runner  app.DigestRunner
	retrier FailedRunRetrier
	pinger  Pinger
	logger  *logrus.Entry
}

func NewHandler(runner app.DigestRunner, retrier FailedRunRetrier, pinger Pinger, logger *logrus.Entry) *Handler {
	return &Handler{runner: runner, retrier: retrier, pinger: pinger, logger: logger}
}

// runResponse is the trigger contract: summary counts only, never raw errors.
type runResponse struct {
	Success bool `json:"success"`
	Sent    int  `json:"sent"`
	Skipped int  `json:"skipped"`
	Failed  int  `json:"failed"`
}

// RunPush handles POST /internal/v1/digests/{cadence}/run.
func (h *Handler) RunPush(w http.ResponseWriter, r *http.Request) {
	cadence, ok := parseCadence(chi.URLParam(r, "cadence"))
	if !ok {
		http.Error(w, "invalid cadence: want daily or weekly", http.StatusBadRequest)
		return
	}
	h.run(w, r, cadence)
}

// RunPull handles GET /internal/v1/digests/run?cadence=daily|weekly, for
// pull-style schedulers that can only fetch a URL.
func (h *Handler) RunPull(w http.ResponseWriter, r *http.Request) {
	cadence, ok := parseCadence(r.URL.Query().Get("cadence"))
	if !ok {
		http.Error(w, "invalid cadence: want daily or weekly", http.StatusBadRequest)
		return
	}
	h.run(w, r, cadence)
}

// run is the shared body of both trigger bindings.
func (h *Handler) run(w http.ResponseWriter, r *http.Request, cadence digest.Cadence) {
	logCtx := h.logger.WithField("cadence", cadence)
	logCtx.Info("Digest run triggered via HTTP")

	summary, err := h.runner.RunDigest(r.Context(), cadence)
	if err != nil {
		// Only auth (handled by middleware) and snapshot-load failures reach
		// here; partial dispatch failures are counts inside the summary.
		logCtx.WithError(err).Error("Digest run aborted")
		writeJSON(w, http.StatusInternalServerError, runResponse{Success: false})
		return
	}

	writeJSON(w, http.StatusOK, runResponse{
		Success: true,
		Sent:    summary.Sent,
		Skipped: summary.Skipped,
		Failed:  summary.Failed,
	})
}

// RetryFailed handles POST /internal/v1/digests/{cadence}/retries?bucket=...
func (h *Handler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	cadence, ok := parseCadence(chi.URLParam(r, "cadence"))
	if !ok {
		http.Error(w, "invalid cadence: want daily or weekly", http.StatusBadRequest)
		return
	}
	bucket := strings.TrimSpace(r.URL.Query().Get("bucket"))
	if bucket == "" {
		http.Error(w, "missing bucket parameter", http.StatusBadRequest)
		return
	}

	logCtx := h.logger.WithField("cadence", cadence).WithField("bucket", bucket)
	logCtx.Info("Manual retry of FAILED runs triggered via HTTP")

	summary, err := h.retrier.RetryFailedRuns(r.Context(), cadence, bucket)
	if err != nil {
		logCtx.WithError(err).Error("Retry run aborted")
		writeJSON(w, http.StatusInternalServerError, runResponse{Success: false})
		return
	}

	writeJSON(w, http.StatusOK, runResponse{
		Success: true,
		Sent:    summary.Sent,
		Skipped: summary.Skipped,
		Failed:  summary.Failed,
	})
}

// Healthz handles GET /healthz: a database ping for the deployment probe.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.pinger.PingContext(r.Context()); err != nil {
		h.logger.WithError(err).Error("Health check failed")
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseCadence(raw string) (digest.Cadence, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "DAILY":
		return digest.CadenceDaily, true
	case "WEEKLY":
		return digest.CadenceWeekly, true
	default:
		return "", false
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
