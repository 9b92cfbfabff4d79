package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/hooks"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/observability"
	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/wasmplugin"
)

// Server is the plugin management HTTP API.
type Server struct {
	registry *wasmplugin.LiveRegistry
	hooks    *hooks.Service
	nodeID   uint64
	logger   *logrus.Logger
	router   *mux.Router
}

// NewServer builds the API around a live registry. promRegistry and
// metrics may be nil; the metrics endpoint and middleware are skipped.
func NewServer(registry *wasmplugin.LiveRegistry, hookService *hooks.Service, nodeID uint64, logger *logrus.Logger, promRegistry *prometheus.Registry, metrics *observability.Metrics) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{
		registry: registry,
		hooks:    hookService,
		nodeID:   nodeID,
		logger:   logger,
		router:   mux.NewRouter(),
	}

	if metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(metrics))
	}

	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	if promRegistry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(promRegistry)).Methods(http.MethodGet)
	}

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/plugins", s.handleListPlugins).Methods(http.MethodGet)
	v1.HandleFunc("/plugins/reload", s.handleReloadAll).Methods(http.MethodPost)
	v1.HandleFunc("/plugins/{name}/health", s.handlePluginHealth).Methods(http.MethodGet)
	v1.HandleFunc("/plugins/{name}/reload", s.handleReloadOne).Methods(http.MethodPost)
	v1.HandleFunc("/hooks/trigger", s.handleTriggerHook).Methods(http.MethodPost)

	return s
}

// Handler returns the HTTP handler for mounting or serving.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Warn("failed to write admin response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"node_id": s.nodeID,
		"plugins": s.registry.Len(),
	})
}

type pluginSummary struct {
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	State    string   `json:"state"`
	Priority uint32   `json:"priority"`
	Handles  []string `json:"handles"`
}

func (s *Server) handleListPlugins(w http.ResponseWriter, _ *http.Request) {
	names := s.registry.Names()
	plugins := make([]pluginSummary, 0, len(names))
	for _, name := range names {
		handler, ok := s.registry.Plugin(name)
		if !ok {
			continue
		}
		plugins = append(plugins, pluginSummary{
			Name:     name,
			Version:  handler.Version(),
			State:    handler.State().String(),
			Priority: handler.Priority(),
			Handles:  handler.Handles(),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"plugins": plugins, "count": len(plugins)})
}

func (s *Server) handlePluginHealth(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	handler, ok := s.registry.Plugin(name)
	if !ok {
		s.writeError(w, http.StatusNotFound, "no such plugin: "+name)
		return
	}
	health := handler.CallHealth(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]any{
		"name":    name,
		"state":   handler.State().String(),
		"status":  health.Status,
		"message": health.Message,
	})
}

func (s *Server) handleReloadOne(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.registry.ReloadOne(r.Context(), name); err != nil {
		s.logger.WithFields(logrus.Fields{"plugin": name, "error": err}).Warn("plugin reload failed")
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded", "plugin": name})
}

func (s *Server) handleReloadAll(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.ReloadAll(r.Context()); err != nil {
		s.logger.WithError(err).Warn("registry reload failed")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "reloaded", "plugins": s.registry.Len()})
}

type triggerRequest struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

func (s *Server) handleTriggerHook(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	eventType, err := hooks.ParseEventType(req.EventType)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	event := hooks.NewEvent(eventType, s.nodeID, req.Payload)

	handlerCount := 0
	failures := []hooks.HandlerFailure{}
	if s.hooks != nil {
		result := s.hooks.Dispatch(r.Context(), event)
		handlerCount = result.HandlerCount
		failures = result.Failures
	}
	delivered := s.registry.DeliverHookEvent(r.Context(), event)

	s.writeJSON(w, http.StatusOK, map[string]any{
		"event_id":          event.ID,
		"topic":             event.Topic(),
		"handlers":          handlerCount,
		"plugin_deliveries": delivered,
		"failures":          failures,
	})
}

// ListenAndServe runs the API until the context is cancelled, then
// shuts the listener down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
