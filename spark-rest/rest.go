// Package sparkrest provides the REST surface for spark records with CORS
// support and common middleware.
package sparkrest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	sparkcli "github.com/fireflyhq/spark-server/spark-cli"
)

func Middlewares(service sparkcli.Service, routes chi.Router) chi.Router {
	routes.Use(
		withCORS(),
		withLogger(sparkcli.Logger(service)),
		middleware.Recoverer,
	)
	return routes
}

// Webserver serves routes until ctx is cancelled, then drains in-flight
// requests.
func Webserver(ctx context.Context, service sparkcli.Service, routes chi.Router) error {
	logger := sparkcli.Logger(service)
	logger.Info().Int("port", sparkcli.CommonOpts.Port).Msg("starting http server")

	server := &http.Server{
		Addr:    fmt.Sprintf(":%v", sparkcli.CommonOpts.Port),
		Handler: routes,
	}

	errs := make(chan error, 1)
	go func() {
		errs <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errs:
		return err
	}
}

func withCORS() func(next http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
	})
}

func withLogger(logger zerolog.Logger) func(handler http.Handler) http.Handler {
	return func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := logger.WithContext(req.Context())
			req = req.WithContext(ctx)
			handler.ServeHTTP(w, req)
		})
	}
}
