package handlers

import "net/http"

const (
	apiName    = "Background Remover API"
	apiVersion = "1.0.0"
)

type infoResponse struct {
	Name      string            `json:"name"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
	Usage     map[string]string `json:"usage"`
}

func (a *App) Info(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, infoResponse{
		Name:    apiName,
		Version: apiVersion,
		Endpoints: map[string]string{
			"POST /remove-background":     "Remove background from uploaded image file",
			"POST /remove-background-url": "Remove background from image URL",
			"GET /health":                 "Health check endpoint",
		},
		Usage: map[string]string{
			"file_upload":    `Send image as multipart/form-data with field name "image"`,
			"url_processing": `Send JSON with "imageUrl" field containing image URL`,
		},
	})
}
