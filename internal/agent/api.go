package agent

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/carlosprados/keeper/internal/capability"
	"github.com/carlosprados/keeper/internal/definition"
	"github.com/carlosprados/keeper/internal/runner"
	"github.com/carlosprados/keeper/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Router returns the HTTP handler for the local API.
func (a *Agent) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"uptime":   time.Since(a.start).String(),
			"closed":   a.closed.Load(),
			"time_utc": time.Now().UTC().Format(time.RFC3339),
		})
	})

	mux.HandleFunc("/v1/servers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, a.orch.List())
	})

	// Per-server routes:
	// - GET  /v1/servers/{id}
	// - GET  /v1/servers/{id}/logs?tail=N
	// - POST /v1/servers/{id}/input
	// - POST /v1/servers/{id}:start|:stop|:force-stop|:restart|:grant
	mux.HandleFunc("/v1/servers/", func(w http.ResponseWriter, r *http.Request) {
		path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/servers/"), "/")
		if path == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if id, sub, ok := strings.Cut(path, "/"); ok {
			switch sub {
			case "logs":
				a.handleLogs(w, r, id)
			case "input":
				a.handleInput(w, r, id)
			default:
				w.WriteHeader(http.StatusNotFound)
			}
			return
		}
		if i := strings.LastIndexByte(path, ':'); i >= 0 {
			a.handleAction(w, r, path[:i], path[i+1:])
			return
		}
		a.handleServer(w, r, path)
	})

	mux.HandleFunc("/v1/runtime/candidates", func(w http.ResponseWriter, r *http.Request) {
		found, likely := a.Candidates(r.Context(), r.URL.Query().Get("full") == "true")
		writeJSON(w, http.StatusOK, map[string]any{"found": found, "likely": likely})
	})

	// POST {"home":"/path/to/jdk"}
	mux.HandleFunc("/v1/runtime/authorize", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Home string `json:"home"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Home == "" {
			writeError(w, http.StatusBadRequest, errors.New("missing home"))
			return
		}
		rt, err := a.AuthorizeRuntime(r.Context(), req.Home)
		if err != nil {
			writeError(w, statusOf(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"home": rt.Home, "exe": rt.Exe, "grant": rt.Token.ID})
	})

	mux.HandleFunc("/v1/errors/last", func(w http.ResponseWriter, r *http.Request) {
		e, ok := a.orch.LastError()
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, e)
	})

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("keeper is running. See /healthz, /metrics and /v1/servers\n"))
	})

	return mux
}

func (a *Agent) handleServer(w http.ResponseWriter, r *http.Request, id string) {
	info, ok := a.orch.Info(id)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	resp := map[string]any{"session": info}
	if defs, err := a.Definitions(); err == nil {
		for _, d := range defs {
			if d.ID == id {
				resp["definition"] = d
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *Agent) handleLogs(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := a.orch.Info(id); !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	tail, _ := strconv.Atoi(r.URL.Query().Get("tail"))
	lines := a.orch.Logs(id, tail)
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"server": id, "lines": lines})
}

// POST {"text":"say hello"}
func (a *Agent) handleInput(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.orch.SendInput(r.Context(), id, req.Text); err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Agent) handleAction(w http.ResponseWriter, r *http.Request, id, action string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	var err error
	switch action {
	case "start":
		err = a.orch.Start(ctx, id)
	case "stop":
		err = a.orch.Stop(ctx, id)
	case "force-stop":
		err = a.orch.ForceStop(ctx, id)
	case "restart":
		err = a.orch.Restart(ctx, id)
	case "grant":
		var req struct {
			Dir string `json:"dir"`
		}
		if derr := json.NewDecoder(r.Body).Decode(&req); derr != nil || req.Dir == "" {
			writeError(w, http.StatusBadRequest, errors.New("missing dir"))
			return
		}
		var tok capability.Token
		if tok, err = a.GrantWorkspace(ctx, id, req.Dir); err == nil {
			writeJSON(w, http.StatusOK, map[string]any{"server": id, "grant": tok.ID, "path": tok.Path})
			return
		}
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		if errors.Is(err, supervisor.ErrAuthorizationPending) {
			writeJSON(w, http.StatusAccepted, map[string]any{"server": id, "pending": true, "error": err.Error()})
			return
		}
		log.Warn().Str("server", id).Str("action", action).Err(err).Msg("api action failed")
		writeError(w, statusOf(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, supervisor.ErrUnknownDefinition):
		return http.StatusNotFound
	case errors.Is(err, supervisor.ErrStopping), errors.Is(err, supervisor.ErrServerLive),
		errors.Is(err, supervisor.ErrDataDirLocked):
		return http.StatusConflict
	case errors.Is(err, supervisor.ErrRestartTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, definition.ErrInvalidEntry), errors.Is(err, runner.ErrExecutionBlocked):
		return http.StatusUnprocessableEntity
	case errors.Is(err, runner.ErrWorkspaceAccessDenied), errors.Is(err, runner.ErrRuntimeAccessDenied),
		errors.Is(err, capability.ErrAccessDenied), errors.Is(err, capability.ErrInvalidToken):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
