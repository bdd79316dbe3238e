package bus

import (
	"encoding/json"
	"net/http"

	"github.com/amoskys/amoskys/pkg/metrics"
)

// Prober reports the two checks the companion HTTP mux exposes: whether the
// process is alive, and whether it's ready to accept Publish calls (store
// configured, trust map loaded).
type Prober interface {
	IsReady() (bool, string)
}

// IsReady implements Prober: the bus is ready once it has a loaded trust map
// and a non-nil store (the store itself is not probed); a readiness probe
// stays green across transient overload (that's what Publish's Overload
// outcome communicates, not unreadiness).
func (s *Server) IsReady() (bool, string) {
	if s.store == nil {
		return false, "event store is not configured"
	}
	if s.trust.Len() == 0 {
		return false, "trust map is empty"
	}
	return true, ""
}

// NewHealthMux builds the HTTP surface served alongside the gRPC listener:
// /live (process responsive), /ready (Prober-backed), and /metrics (the
// shared Prometheus manager's handler). It uses the standard library mux
// rather than a router framework: this is a three-route health surface, not
// a JSON API, so chi's route-group machinery has no work to do here.
func NewHealthMux(p Prober, m *metrics.Manager) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/live", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ready, reason := p.IsReady()
		if !ready {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "reason": reason})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	if m != nil && m.Enabled() {
		mux.Handle("/metrics", m.Handler())
	}

	return mux
}

func writeJSON(w http.ResponseWriter, status int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
