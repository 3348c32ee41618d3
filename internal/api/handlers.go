// internal/api/handlers.go
package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/valpere/scraperotor/internal/errors"
	"github.com/valpere/scraperotor/internal/orchestrator"
	"github.com/valpere/scraperotor/internal/proxy"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		s.deps.Health.HealthHandler().ServeHTTP(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

// proxyRequest is the body of POST /proxies. Password is accepted here
// although EgressPoint never serialises it back.
type proxyRequest struct {
	ID       string          `json:"id,omitempty"`
	Host     string          `json:"host"`
	Port     int             `json:"port"`
	Type     proxy.ProxyType `json:"type"`
	AuthType proxy.AuthType  `json:"auth_type,omitempty"`
	Username string          `json:"username,omitempty"`
	Password string          `json:"password,omitempty"`
	Country  string          `json:"country,omitempty"`
	Region   string          `json:"region,omitempty"`
	City     string          `json:"city,omitempty"`
	Tags     []string        `json:"tags,omitempty"`
	Provider string          `json:"provider,omitempty"`
	Enabled  *bool           `json:"enabled,omitempty"`
}

func (p proxyRequest) point() proxy.EgressPoint {
	point := proxy.EgressPoint{
		ID:       p.ID,
		Host:     p.Host,
		Port:     p.Port,
		Type:     p.Type,
		AuthType: p.AuthType,
		Username: p.Username,
		Password: p.Password,
		Country:  p.Country,
		Region:   p.Region,
		City:     p.City,
		Tags:     p.Tags,
		Provider: p.Provider,
		Enabled:  true,
	}
	if point.Type == "" {
		point.Type = proxy.ProxyTypeHTTP
	}
	if p.Enabled != nil {
		point.Enabled = *p.Enabled
	}
	return point
}

func (s *Server) listProxies(w http.ResponseWriter, r *http.Request) {
	list := s.deps.Pool.List()
	if r.URL.Query().Get("healthy") == "true" {
		healthy := list[:0]
		for _, st := range list {
			if st.Health.Healthy {
				healthy = append(healthy, st)
			}
		}
		list = healthy
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"proxies": list,
		"total":   len(list),
	})
}

func (s *Server) addProxy(w http.ResponseWriter, r *http.Request) {
	var req proxyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	stored, err := s.deps.Pool.Add(req.point())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) getProxy(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	point, ok := s.deps.Pool.Get(id)
	if !ok {
		writeErr(w, fmt.Errorf("%w: %s", proxy.ErrUnknownEgress, id))
		return
	}
	health, _ := s.deps.Pool.Health(id)
	writeJSON(w, http.StatusOK, proxy.EgressStatus{EgressPoint: point, Health: health})
}

func (s *Server) removeProxy(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Pool.Remove(mux.Vars(r)["id"]); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setProxyEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := s.deps.Pool.SetEnabled(id, enabled); err != nil {
			writeErr(w, err)
			return
		}
		point, _ := s.deps.Pool.Get(id)
		writeJSON(w, http.StatusOK, point)
	}
}

func (s *Server) markHealthy(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.deps.Pool.MarkHealthy(id); err != nil {
		writeErr(w, err)
		return
	}
	health, _ := s.deps.Pool.Health(id)
	writeJSON(w, http.StatusOK, health)
}

// checkProxies runs a probe round now, or probes one point with ?id=
func (s *Server) checkProxies(w http.ResponseWriter, r *http.Request) {
	if s.deps.Monitor == nil {
		writeError(w, http.StatusServiceUnavailable, "health monitor not configured")
		return
	}
	if id := r.URL.Query().Get("id"); id != "" {
		healthy, err := s.deps.Monitor.CheckOne(r.Context(), id)
		if err != nil {
			if errors.Is(err, proxy.ErrUnknownEgress) {
				writeErr(w, err)
				return
			}
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "healthy": healthy})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Monitor.CheckNow(r.Context()))
}

func (s *Server) poolStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Pool.Stats())
}

func (s *Server) getPoolConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Pool.Config())
}

// updatePoolConfig replaces the policy; omitted fields fall back to defaults
func (s *Server) updatePoolConfig(w http.ResponseWriter, r *http.Request) {
	var cfg proxy.PoolConfig
	if err := decodeJSON(r, &cfg); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.deps.Pool.UpdateConfig(cfg); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Pool.Config())
}

func (s *Server) resetPool(w http.ResponseWriter, r *http.Request) {
	s.deps.Pool.Reset()
	writeJSON(w, http.StatusOK, s.deps.Pool.Stats())
}

func (s *Server) listQuotas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Pool.Quotas().Snapshot())
}

// listTasks returns in-memory tasks, or archived ones with ?history=<limit>
func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("history"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "history must be a non-negative integer")
			return
		}
		history, err := s.deps.Orchestrator.History(r.Context(), limit)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": history, "total": len(history)})
		return
	}

	tasks := s.deps.Orchestrator.List()
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := tasks[:0]
		for _, t := range tasks {
			if string(t.Status) == status {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks, "total": len(tasks)})
}

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	var cfg orchestrator.TaskConfig
	if err := decodeJSON(r, &cfg); err != nil {
		writeErr(w, err)
		return
	}
	id, err := s.deps.Orchestrator.Submit(r.Context(), cfg)
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/tasks/"+id)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"id":     id,
		"status": orchestrator.StatusPending,
	})
}

func (s *Server) previewTask(w http.ResponseWriter, r *http.Request) {
	var cfg orchestrator.TaskConfig
	if err := decodeJSON(r, &cfg); err != nil {
		writeErr(w, err)
		return
	}
	result, err := s.deps.Orchestrator.Preview(r.Context(), cfg)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) taskStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Orchestrator.Stats())
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.deps.Orchestrator.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if s.deps.Orchestrator.Cancel(id) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "cancelled": true})
		return
	}

	task, err := s.deps.Orchestrator.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusConflict, map[string]interface{}{
		"id":        id,
		"cancelled": false,
		"status":    task.Status,
	})
}
