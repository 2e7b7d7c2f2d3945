package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/wilhg/sigil/pkg/agent"
	"github.com/wilhg/sigil/pkg/agent/actions"
	"github.com/wilhg/sigil/pkg/bus"
	"github.com/wilhg/sigil/pkg/errmodel"
	"github.com/wilhg/sigil/pkg/runtime"
	"github.com/wilhg/sigil/pkg/signal"
	"github.com/wilhg/sigil/pkg/store"
)

// manager owns the agent servers hosted by this process. All servers
// share one in-process bus so observers can subscribe per-agent.
type manager struct {
	mu      sync.RWMutex
	servers map[string]*runtime.Server
	bus     *bus.Inproc
	kv      store.KV
	// baseCtx outlives individual requests; server loops run under it.
	baseCtx context.Context
}

func newManager(kv store.KV) *manager {
	return &manager{
		servers: map[string]*runtime.Server{},
		bus:     bus.NewInproc(),
		kv:      kv,
		baseCtx: context.Background(),
	}
}

func (m *manager) get(id string) (*runtime.Server, error) {
	m.mu.RLock()
	srv, ok := m.servers[id]
	m.mu.RUnlock()
	if !ok {
		return nil, errmodel.Validation("not_found", "unknown agent", map[string]any{"agent_id": id})
	}
	return srv, nil
}

type createRequest struct {
	ID     string         `json:"id,omitempty"`
	Kind   string         `json:"kind,omitempty"`
	State  map[string]any `json:"state,omitempty"`
	Thaw   bool           `json:"thaw,omitempty"`
	Routes []struct {
		Pattern string         `json:"pattern"`
		Action  string         `json:"action"`
		Params  map[string]any `json:"params,omitempty"`
	} `json:"routes,omitempty"`
}

// create builds an agent with the built-in action set, routes every
// action under "agent.<name>" plus any caller routes, and starts its
// server.
func (m *manager) create(r *http.Request, req createRequest) (string, error) {
	var (
		a   *agent.Agent
		err error
	)
	if req.Thaw {
		a, err = runtime.Thaw(r.Context(), m.kv, req.ID, agent.WithActions(actions.All()...))
	} else {
		opts := []agent.Option{agent.WithActions(actions.All()...)}
		if req.ID != "" {
			opts = append(opts, agent.WithID(req.ID))
		}
		if req.Kind != "" {
			opts = append(opts, agent.WithKind(req.Kind))
		}
		if req.State != nil {
			opts = append(opts, agent.WithState(req.State))
		}
		a, err = agent.New(opts...)
	}
	if err != nil {
		return "", err
	}

	var routes []signal.Route
	for _, act := range actions.All() {
		name := act.Describe().Name
		routes = append(routes, signal.Route{Pattern: "agent." + name, Target: signal.Target{Action: name}})
	}
	for _, rt := range req.Routes {
		routes = append(routes, signal.Route{Pattern: rt.Pattern, Target: signal.Target{Action: rt.Action, Params: rt.Params}})
	}
	router, err := signal.BuildRouter(routes...)
	if err != nil {
		return "", err
	}

	srv, err := runtime.NewServer(a, runtime.WithBus(m.bus), runtime.WithRouter(router))
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	if _, exists := m.servers[a.ID]; exists {
		m.mu.Unlock()
		return "", errmodel.Validation("conflict", "agent already exists", map[string]any{"agent_id": a.ID})
	}
	m.servers[a.ID] = srv
	m.mu.Unlock()

	if err := srv.Start(m.baseCtx); err != nil {
		m.mu.Lock()
		delete(m.servers, a.ID)
		m.mu.Unlock()
		return "", err
	}
	return a.ID, nil
}

func buildMux(m *manager) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("POST /api/agents", func(w http.ResponseWriter, r *http.Request) {
		var req createRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			errmodel.WriteHTTP(w, r, errmodel.Validation("bad_request", "invalid JSON body", nil))
			return
		}
		id, err := m.create(r, req)
		if err != nil {
			errmodel.WriteHTTP(w, r, err)
			return
		}
		writeJSON(w, map[string]any{"agent_id": id})
	})

	mux.HandleFunc("POST /api/agents/signal", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			AgentID string         `json:"agent_id"`
			Type    string         `json:"type"`
			Data    map[string]any `json:"data,omitempty"`
			Async   bool           `json:"async,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			errmodel.WriteHTTP(w, r, errmodel.Validation("bad_request", "invalid JSON body", nil))
			return
		}
		srv, err := m.get(req.AgentID)
		if err != nil {
			errmodel.WriteHTTP(w, r, err)
			return
		}
		sig, err := signal.New(req.Type, req.Data, signal.WithSource("sigil://http"))
		if err != nil {
			errmodel.WriteHTTP(w, r, err)
			return
		}
		if req.Async {
			if err := srv.Cast(sig); err != nil {
				errmodel.WriteHTTP(w, r, err)
				return
			}
			writeJSON(w, map[string]any{"accepted": true, "signal_id": sig.ID})
			return
		}
		snap, err := srv.Call(r.Context(), sig)
		if err != nil {
			errmodel.WriteHTTP(w, r, err)
			return
		}
		writeJSON(w, map[string]any{"signal_id": sig.ID, "state": snap.State, "result": snap.Result})
	})

	mux.HandleFunc("POST /api/agents/pause", func(w http.ResponseWriter, r *http.Request) {
		withAgent(m, w, r, func(srv *runtime.Server) error { return srv.Pause() })
	})

	mux.HandleFunc("POST /api/agents/resume", func(w http.ResponseWriter, r *http.Request) {
		withAgent(m, w, r, func(srv *runtime.Server) error { return srv.Resume() })
	})

	mux.HandleFunc("POST /api/agents/hibernate", func(w http.ResponseWriter, r *http.Request) {
		withAgent(m, w, r, func(srv *runtime.Server) error {
			return runtime.Hibernate(r.Context(), m.kv, srv.State())
		})
	})

	mux.HandleFunc("GET /api/agents", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("agent")
		srv, err := m.get(id)
		if err != nil {
			errmodel.WriteHTTP(w, r, err)
			return
		}
		snap := srv.State()
		writeJSON(w, map[string]any{
			"agent_id": snap.ID,
			"kind":     snap.Kind,
			"status":   string(srv.Status()),
			"state":    snap.State,
			"pending":  len(snap.Pending),
			"queued":   srv.QueueLen(),
		})
	})

	return mux
}

func withAgent(m *manager, w http.ResponseWriter, r *http.Request, fn func(*runtime.Server) error) {
	var req struct {
		AgentID string `json:"agent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errmodel.WriteHTTP(w, r, errmodel.Validation("bad_request", "invalid JSON body", nil))
		return
	}
	srv, err := m.get(req.AgentID)
	if err != nil {
		errmodel.WriteHTTP(w, r, err)
		return
	}
	if err := fn(srv); err != nil {
		errmodel.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
