package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	appadvisor "github.com/williamsouzadelima/strati-audit/internal/application/advisor"
	appaudit "github.com/williamsouzadelima/strati-audit/internal/application/audit"
	advisor "github.com/williamsouzadelima/strati-audit/internal/domain/advisor"
	domain "github.com/williamsouzadelima/strati-audit/internal/domain/audit"
	"github.com/williamsouzadelima/strati-audit/internal/domain/auditlog"
	"github.com/williamsouzadelima/strati-audit/internal/middleware"
)

const (
	// Token bucket per client IP; health probes bypass it.
	rateCapacity = 100
	rateRefill   = 25

	// Presigned report links stay valid this long.
	reportLinkTTL = 15 * time.Minute
)

// Bounds for the blocking result read. wait_seconds below the floor
// would lose the race against an already-closed done channel.
const (
	minWait     = time.Second
	defaultWait = 60 * time.Second
	maxWait     = 10 * time.Minute
)

type Router struct {
	svc    *appaudit.Service
	advice *appadvisor.Service
	log    *logrus.Logger
}

// NewRouter builds the HTTP surface. checkers feed /healthz; main passes
// the database and dispatcher probes it has. No authentication layer.
func NewRouter(svc *appaudit.Service, advice *appadvisor.Service, checkers map[string]middleware.HealthChecker, log *logrus.Logger) http.Handler {
	rt := &Router{svc: svc, advice: advice, log: log}

	mux := chi.NewRouter()
	mux.Use(middleware.LoggingMiddleware(log))
	mux.Use(middleware.MetricsMiddleware)
	mux.Use(middleware.RateLimitMiddleware(rateCapacity, rateRefill))
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	mux.Get("/healthz", middleware.HealthHandler(checkers))
	mux.Get("/health/live", middleware.LivenessHandler)
	mux.Get("/metrics", middleware.MetricsHandler(func() map[string]interface{} {
		running, queued := svc.Dispatcher.Counts()
		return map[string]interface{}{
			"jobs_running": running,
			"jobs_queued":  queued,
		}
	}))

	mux.Route("/api/v1", func(api chi.Router) {
		api.Post("/clients", rt.wrap(rt.handleCreateClient))
		api.Get("/clients", rt.wrap(rt.handleListClients))
		api.Get("/clients/{clientID}", rt.wrap(rt.handleGetClient))
		api.Delete("/clients/{clientID}", rt.wrap(rt.handleDeleteClient))

		api.Post("/clients/{clientID}/firewalls", rt.wrap(rt.handleCreateFirewall))
		api.Get("/clients/{clientID}/firewalls", rt.wrap(rt.handleListFirewalls))
		api.Patch("/firewalls/{firewallID}", rt.wrap(rt.handleUpdateFirewall))
		api.Delete("/firewalls/{firewallID}", rt.wrap(rt.handleDeleteFirewall))

		api.Post("/clients/{clientID}/audits", rt.wrap(rt.handleSubmitAudit))
		api.Get("/runs", rt.wrap(rt.handleListRuns))
		api.Get("/runs/{runID}", rt.wrap(rt.handleGetRun))
		api.Post("/runs/{runID}/cancel", rt.wrap(rt.handleCancelRun))
		api.Get("/runs/{runID}/result", rt.wrap(rt.handleRunResult))
		api.Get("/runs/{runID}/report", rt.wrap(rt.handleReport))
		api.Post("/runs/{runID}/advice", rt.wrap(rt.handleAdvice))

		api.Get("/stats", rt.wrap(rt.handleStats))
		api.Get("/events", rt.wrap(rt.handleEvents))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// statusError lets a handler pick its own HTTP status.
type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string { return e.msg }

func invalid(msg string) error {
	return &statusError{code: http.StatusUnprocessableEntity, msg: msg}
}

func statusFor(err error) int {
	var se *statusError
	switch {
	case errors.As(err, &se):
		return se.code
	case errors.Is(err, domain.ErrClientNotFound),
		errors.Is(err, domain.ErrFirewallNotFound),
		errors.Is(err, domain.ErrRunNotFound),
		errors.Is(err, domain.ErrJobNotFound),
		errors.Is(err, advisor.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateInFlight),
		errors.Is(err, domain.ErrClientBusy),
		errors.Is(err, domain.ErrReportNotReady):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNoActiveFirewalls):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrAwaitTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, advisor.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, advisor.ErrDisabled),
		errors.Is(err, domain.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (rt *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		code := statusFor(err)
		if code >= http.StatusInternalServerError {
			rt.log.WithError(err).WithFields(logrus.Fields{
				"method": req.Method,
				"path":   req.URL.Path,
			}).Error("request failed")
		}
		writeJSON(w, code, map[string]string{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(v)
}

//
// ==== CLIENTS ====
//

// POST /api/v1/clients
func (rt *Router) handleCreateClient(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Name         string `json:"name"`
		Description  string `json:"description"`
		ContactEmail string `json:"contact_email"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return invalid("invalid json body")
	}
	if err := middleware.ValidateName(body.Name); err != nil {
		return invalid(err.Error())
	}
	c, err := rt.svc.CreateClient(req.Context(), appaudit.CreateClientCommand{
		Name:         middleware.SanitizeString(body.Name),
		Description:  middleware.SanitizeString(body.Description),
		ContactEmail: middleware.SanitizeString(body.ContactEmail),
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, c)
}

// GET /api/v1/clients
func (rt *Router) handleListClients(w http.ResponseWriter, req *http.Request) error {
	list, err := rt.svc.ListClients(req.Context())
	if err != nil {
		return err
	}
	if list == nil {
		list = []*domain.Client{}
	}
	return writeJSON(w, http.StatusOK, list)
}

// GET /api/v1/clients/{clientID}
func (rt *Router) handleGetClient(w http.ResponseWriter, req *http.Request) error {
	c, err := rt.svc.GetClient(req.Context(), domain.ClientID(chi.URLParam(req, "clientID")))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, c)
}

// DELETE /api/v1/clients/{clientID}
func (rt *Router) handleDeleteClient(w http.ResponseWriter, req *http.Request) error {
	if err := rt.svc.DeleteClient(req.Context(), domain.ClientID(chi.URLParam(req, "clientID"))); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

//
// ==== FIREWALLS ====
//

// POST /api/v1/clients/{clientID}/firewalls
func (rt *Router) handleCreateFirewall(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Name           string `json:"name"`
		Host           string `json:"host"`
		Port           int    `json:"port"`
		Username       string `json:"username"`
		Credential     string `json:"credential"`
		Active         *bool  `json:"active"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return invalid("invalid json body")
	}
	if err := middleware.ValidateHost(body.Host); err != nil {
		return invalid(err.Error())
	}
	if err := middleware.ValidatePort(body.Port); err != nil {
		return invalid(err.Error())
	}
	if err := middleware.ValidateUsername(body.Username); err != nil {
		return invalid(err.Error())
	}
	if body.Name != "" {
		if err := middleware.ValidateName(body.Name); err != nil {
			return invalid(err.Error())
		}
	}
	fw, err := rt.svc.CreateFirewall(req.Context(), appaudit.CreateFirewallCommand{
		ClientID:       domain.ClientID(chi.URLParam(req, "clientID")),
		Name:           middleware.SanitizeString(body.Name),
		Host:           body.Host,
		Port:           body.Port,
		Username:       body.Username,
		Credential:     body.Credential,
		Active:         body.Active,
		TimeoutSeconds: body.TimeoutSeconds,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, fw)
}

// GET /api/v1/clients/{clientID}/firewalls
func (rt *Router) handleListFirewalls(w http.ResponseWriter, req *http.Request) error {
	list, err := rt.svc.ListFirewalls(req.Context(), domain.ClientID(chi.URLParam(req, "clientID")))
	if err != nil {
		return err
	}
	if list == nil {
		list = []*domain.Firewall{}
	}
	return writeJSON(w, http.StatusOK, list)
}

// PATCH /api/v1/firewalls/{firewallID}
func (rt *Router) handleUpdateFirewall(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Name           *string `json:"name"`
		Host           *string `json:"host"`
		Port           *int    `json:"port"`
		Username       *string `json:"username"`
		Credential     *string `json:"credential"`
		Active         *bool   `json:"active"`
		TimeoutSeconds *int    `json:"timeout_seconds"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return invalid("invalid json body")
	}
	if body.Name != nil {
		if err := middleware.ValidateName(*body.Name); err != nil {
			return invalid(err.Error())
		}
	}
	if body.Host != nil {
		if err := middleware.ValidateHost(*body.Host); err != nil {
			return invalid(err.Error())
		}
	}
	if body.Port != nil {
		if err := middleware.ValidatePort(*body.Port); err != nil {
			return invalid(err.Error())
		}
	}
	if body.Username != nil {
		if err := middleware.ValidateUsername(*body.Username); err != nil {
			return invalid(err.Error())
		}
	}
	fw, err := rt.svc.UpdateFirewall(req.Context(), domain.FirewallID(chi.URLParam(req, "firewallID")), appaudit.UpdateFirewallCommand{
		Name:           body.Name,
		Host:           body.Host,
		Port:           body.Port,
		Username:       body.Username,
		Credential:     body.Credential,
		Active:         body.Active,
		TimeoutSeconds: body.TimeoutSeconds,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, fw)
}

// DELETE /api/v1/firewalls/{firewallID}
func (rt *Router) handleDeleteFirewall(w http.ResponseWriter, req *http.Request) error {
	if err := rt.svc.DeleteFirewall(req.Context(), domain.FirewallID(chi.URLParam(req, "firewallID"))); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

//
// ==== AUDIT RUNS ====
//

// POST /api/v1/clients/{clientID}/audits
func (rt *Router) handleSubmitAudit(w http.ResponseWriter, req *http.Request) error {
	runID, err := rt.svc.SubmitAuditRun(req.Context(), domain.ClientID(chi.URLParam(req, "clientID")))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": string(runID),
		"status": string(domain.RunPending),
	})
}

// GET /api/v1/runs?page=&page_size=
func (rt *Router) handleListRuns(w http.ResponseWriter, req *http.Request) error {
	page, _ := strconv.Atoi(req.URL.Query().Get("page"))
	size, _ := strconv.Atoi(req.URL.Query().Get("page_size"))

	list, err := rt.svc.ListRuns(req.Context(), page, size)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, list)
}

// GET /api/v1/runs/{runID}
func (rt *Router) handleGetRun(w http.ResponseWriter, req *http.Request) error {
	rr, err := rt.svc.GetRunStatus(req.Context(), domain.RunID(chi.URLParam(req, "runID")))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, rr)
}

// POST /api/v1/runs/{runID}/cancel
func (rt *Router) handleCancelRun(w http.ResponseWriter, req *http.Request) error {
	id := domain.RunID(chi.URLParam(req, "runID"))
	if err := rt.svc.CancelRun(req.Context(), id); err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]string{
		"run_id": string(id),
		"status": "cancelled",
	})
}

// GET /api/v1/runs/{runID}/result?wait_seconds=60
func (rt *Router) handleRunResult(w http.ResponseWriter, req *http.Request) error {
	wait := defaultWait
	if v := req.URL.Query().Get("wait_seconds"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs < 0 {
			return invalid("wait_seconds must be a non-negative integer")
		}
		wait = time.Duration(secs) * time.Second
	}
	if wait < minWait {
		wait = minWait
	}
	if wait > maxWait {
		wait = maxWait
	}

	rr, err := rt.svc.AwaitRunCompletion(req.Context(), domain.RunID(chi.URLParam(req, "runID")), wait)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, rr)
}

// GET /api/v1/runs/{runID}/report
func (rt *Router) handleReport(w http.ResponseWriter, req *http.Request) error {
	links, err := rt.svc.ReportURLs(req.Context(), domain.RunID(chi.URLParam(req, "runID")), reportLinkTTL)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, links)
}

// POST /api/v1/runs/{runID}/advice
func (rt *Router) handleAdvice(w http.ResponseWriter, req *http.Request) error {
	a, err := rt.advice.AdviseRun(req.Context(), domain.RunID(chi.URLParam(req, "runID")))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, a)
}

//
// ==== OBSERVATION ====
//

// GET /api/v1/stats
func (rt *Router) handleStats(w http.ResponseWriter, req *http.Request) error {
	stats, err := rt.svc.Overview(req.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, stats)
}

// GET /api/v1/events?limit=50
func (rt *Router) handleEvents(w http.ResponseWriter, req *http.Request) error {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	list, err := rt.svc.RecentEvents(req.Context(), middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}
	if list == nil {
		list = []*auditlog.Event{}
	}
	return writeJSON(w, http.StatusOK, list)
}
