package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"bgremover/internal/orchestrator"
)

// EngineProbe reports whether the engine executable can be launched.
type EngineProbe interface {
	Available() error
}

type App struct {
	Orchestrator *orchestrator.Orchestrator
	Engine       EngineProbe
	Logger       zerolog.Logger
}

func NewApp(orc *orchestrator.Orchestrator, engine EngineProbe, logger zerolog.Logger) *App {
	return &App{Orchestrator: orc, Engine: engine, Logger: logger}
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, msg, details string) {
	a.json(w, code, errorResponse{Error: msg, Details: details})
}

// NotFound answers unknown routes.
func (a *App) NotFound(w http.ResponseWriter, r *http.Request) {
	a.error(w, http.StatusNotFound, "Not found", r.Method+" "+r.URL.Path)
}

// MethodNotAllowed answers known routes called with the wrong method.
func (a *App) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	a.error(w, http.StatusMethodNotAllowed, "Method not allowed", r.Method+" "+r.URL.Path)
}
