package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"bgremover/internal/http/handlers"
	"bgremover/internal/middleware"
)

// Options configures the cross-cutting middleware.
type Options struct {
	CORSAllowedOrigins []string
	RateLimitPerMinute int
	CountryLookup      middleware.CountryLookup
}

func NewRouter(app *handlers.App, logger zerolog.Logger, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		middleware.Country(opts.CountryLookup),
		middleware.AccessLog(logger),
		middleware.Recoverer(logger),
		middleware.CORS(opts.CORSAllowedOrigins),
	)
	r.NotFound(app.NotFound)
	r.MethodNotAllowed(app.MethodNotAllowed)

	r.Get("/", app.Info)
	r.Get("/health", app.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(opts.RateLimitPerMinute, time.Minute))
		r.Post("/remove-background", app.RemoveBackground)
		r.Post("/remove-background-url", app.RemoveBackgroundURL)
	})

	return r
}
