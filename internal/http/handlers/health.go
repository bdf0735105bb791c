package handlers

import (
	"net/http"
)

type healthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Engine  string `json:"engine"`
}

// Health always answers 200 while the process is up. The engine field tells
// operators whether the configured executable was found.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	engine := "available"
	if a.Engine != nil {
		if err := a.Engine.Available(); err != nil {
			engine = "unavailable: " + err.Error()
		}
	}
	a.json(w, http.StatusOK, healthResponse{
		Status:  "OK",
		Message: "Background Remover API is running",
		Engine:  engine,
	})
}
