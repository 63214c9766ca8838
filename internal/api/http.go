package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sgerhart/reqsentry/internal/alert"
	"github.com/sgerhart/reqsentry/internal/blocklist"
	"github.com/sgerhart/reqsentry/internal/correlation"
	"github.com/sgerhart/reqsentry/internal/events"
	"github.com/sgerhart/reqsentry/internal/metrics"
	"github.com/sgerhart/reqsentry/internal/model"
	"github.com/sgerhart/reqsentry/internal/rules"
	"github.com/sgerhart/reqsentry/internal/window"
)

// HTTPAPI provides the admin/read endpoints over the pipeline state.
type HTTPAPI struct {
	alerts     *alert.Manager
	blocklist  *blocklist.Manager
	events     *events.Store
	correlator *correlation.Engine
	tracker    *window.Tracker
	aggregator *metrics.Aggregator
	ruleLoader *rules.Loader
	registry   *prometheus.Registry
}

// NewHTTPAPI creates the admin API.
func NewHTTPAPI(alerts *alert.Manager, bl *blocklist.Manager, eventStore *events.Store, correlator *correlation.Engine, tracker *window.Tracker, aggregator *metrics.Aggregator, ruleLoader *rules.Loader, registry *prometheus.Registry) *HTTPAPI {
	return &HTTPAPI{
		alerts:     alerts,
		blocklist:  bl,
		events:     eventStore,
		correlator: correlator,
		tracker:    tracker,
		aggregator: aggregator,
		ruleLoader: ruleLoader,
		registry:   registry,
	}
}

// SetupRoutes registers the admin routes on the router.
func (api *HTTPAPI) SetupRoutes(r *mux.Router) {
	r.HandleFunc("/api/alerts", api.handleAlerts).Methods(http.MethodGet)
	r.HandleFunc("/api/incidents", api.handleIncidents).Methods(http.MethodGet)
	r.HandleFunc("/api/incidents/{id}", api.handleIncident).Methods(http.MethodGet)
	r.HandleFunc("/api/incidents/{id}/acknowledge", api.handleAcknowledge).Methods(http.MethodPost)
	r.HandleFunc("/api/incidents/{id}/close", api.handleClose).Methods(http.MethodPost)
	r.HandleFunc("/api/blocklist", api.handleListBlocked).Methods(http.MethodGet)
	r.HandleFunc("/api/blocklist", api.handleBlock).Methods(http.MethodPost)
	r.HandleFunc("/api/blocklist/{ip}", api.handleUnblock).Methods(http.MethodDelete)
	r.HandleFunc("/api/events", api.handleEvents).Methods(http.MethodGet)
	r.HandleFunc("/api/correlations/{eventID}", api.handleCorrelation).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", api.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/api/rules", api.handleRules).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(api.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", api.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", api.handleReady).Methods(http.MethodGet)
}

func (api *HTTPAPI) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	ip := r.URL.Query().Get("ip")

	var result []*model.Alert
	if ip != "" {
		result = api.alerts.Alerts().ByIdentity(ip, limit)
	} else {
		result = api.alerts.Alerts().Recent(limit)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts":    result,
		"count":     len(result),
		"timestamp": time.Now().UTC(),
	})
}

func (api *HTTPAPI) handleIncidents(w http.ResponseWriter, r *http.Request) {
	status := model.IncidentStatus(r.URL.Query().Get("status"))
	severity := model.Severity(r.URL.Query().Get("severity"))

	incidents := api.alerts.Incidents().List(status, severity)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"incidents": incidents,
		"count":     len(incidents),
	})
}

func (api *HTTPAPI) handleIncident(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	incident, ok := api.alerts.Incidents().Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "incident not found")
		return
	}
	writeJSON(w, http.StatusOK, incident)
}

func (api *HTTPAPI) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	incident, err := api.alerts.Incidents().Acknowledge(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, incident)
}

func (api *HTTPAPI) handleClose(w http.ResponseWriter, r *http.Request) {
	incident, err := api.alerts.Incidents().Close(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, incident)
}

func (api *HTTPAPI) handleListBlocked(w http.ResponseWriter, r *http.Request) {
	entries := api.blocklist.Entries()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"blocked": entries,
		"count":   len(entries),
	})
}

func (api *HTTPAPI) handleBlock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IP     string `json:"ip"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IP == "" {
		writeError(w, http.StatusBadRequest, "body must be JSON with an ip field")
		return
	}
	if req.Reason == "" {
		req.Reason = "manual block"
	}

	entry := api.blocklist.BlockIP(req.IP, req.Reason)
	writeJSON(w, http.StatusCreated, entry)
}

func (api *HTTPAPI) handleUnblock(w http.ResponseWriter, r *http.Request) {
	ip := mux.Vars(r)["ip"]
	if !api.blocklist.UnblockIP(ip) {
		writeError(w, http.StatusNotFound, "identity not blocked")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"unblocked": ip})
}

func (api *HTTPAPI) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	category := r.URL.Query().Get("category")

	var result []*model.SecurityEvent
	if category != "" {
		result = api.events.ByCategory(category, limit)
	} else {
		result = api.events.Recent(24*time.Hour, limit)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": result,
		"count":  len(result),
	})
}

func (api *HTTPAPI) handleCorrelation(w http.ResponseWriter, r *http.Request) {
	eventID := mux.Vars(r)["eventID"]
	result, ok := api.correlator.Result(eventID)
	if !ok {
		writeError(w, http.StatusNotFound, "no correlation result for event")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (api *HTTPAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"traffic":     api.aggregator.Snapshot(),
		"window":      api.tracker.Stats(),
		"events":      api.events.Stats(),
		"alerts":      api.alerts.Alerts().Stats(),
		"incidents":   api.alerts.Incidents().Stats(),
		"correlation": api.correlator.Stats(),
	})
}

func (api *HTTPAPI) handleRules(w http.ResponseWriter, r *http.Request) {
	snapshot := api.ruleLoader.GetSnapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":   snapshot.Version,
		"loaded_at": snapshot.LoadedAt,
		"rules":     snapshot.Rules,
		"count":     len(snapshot.Rules),
	})
}

func (api *HTTPAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

func (api *HTTPAPI) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ready"})
}

func queryInt(r *http.Request, key string, defaultValue int) int {
	if value := r.URL.Query().Get(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError returns a JSON error without leaking internals to the caller.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success":   false,
		"error":     message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
