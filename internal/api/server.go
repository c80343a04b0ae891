// ABOUTME: HTTP server struct, constructor, and route wiring for souq-chat.
// ABOUTME: Holds the store, config, WhatsApp client, and dispatcher used by handlers.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/al-azab/souq-chat/internal/config"
	"github.com/al-azab/souq-chat/internal/dispatch"
	"github.com/al-azab/souq-chat/internal/store"
	"github.com/al-azab/souq-chat/internal/wa"
)

// Server holds the dependencies for the HTTP layer.
type Server struct {
	store      *store.Store
	cfg        *config.Config
	wa         *wa.Client
	dispatcher *dispatch.Dispatcher
	templates  *dispatch.TemplateSyncer
	sender     *dispatch.MessageSender
}

// NewServer creates a Server. dispatcher may be nil when the dispatch trigger
// endpoint is not served (worker-only deployments don't mount the API at all,
// but some tests construct a server without a dispatcher).
func NewServer(s *store.Store, cfg *config.Config, waClient *wa.Client, dispatcher *dispatch.Dispatcher) *Server {
	return &Server{
		store:      s,
		cfg:        cfg,
		wa:         waClient,
		dispatcher: dispatcher,
		templates:  dispatch.NewTemplateSyncer(s, waClient),
		sender:     dispatch.NewMessageSender(s, waClient),
	}
}

// Handler builds and returns the http.Handler.
func (srv *Server) Handler() http.Handler {
	var db *pgxpool.Pool
	if srv.store != nil {
		db = srv.store.Pool()
	}
	r := chi.NewRouter()

	// Security headers first so they appear on every response including errors.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			next.ServeHTTP(w, r)
		})
	})

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	// 1 MB global body limit; inbound provider callbacks and API requests are
	// all small JSON documents.
	r.Use(middleware.RequestSize(1 << 20))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthzHandler(db))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Provider webhook: authenticated by verify-token (GET) and HMAC
		// signature (POST), not by the service token.
		r.Get("/wa/webhook", srv.verifyInboundHandler)
		r.Post("/wa/webhook", srv.inboundHandler)

		r.Group(func(r chi.Router) {
			r.Use(srv.requireServiceToken)

			r.Post("/worker/dispatch", srv.dispatchHandler)

			r.Route("/tenants/{tenant_id}", func(r chi.Router) {
				r.Use(srv.tenantCtx)

				r.Post("/jobs", srv.enqueueJobHandler)

				r.Route("/webhook-endpoints", func(r chi.Router) {
					r.Get("/", srv.listWebhookEndpointsHandler)
					r.Post("/", srv.createWebhookEndpointHandler)
					r.Route("/{endpoint_id}", func(r chi.Router) {
						r.Get("/", srv.getWebhookEndpointHandler)
						r.Patch("/", srv.updateWebhookEndpointHandler)
						r.Delete("/", srv.deleteWebhookEndpointHandler)
						r.Post("/test", srv.testWebhookEndpointHandler)
					})
				})
				r.Get("/webhook-deliveries", srv.listWebhookDeliveriesHandler)

				r.Post("/templates/sync", srv.syncTemplatesHandler)
				r.Post("/messages", srv.sendMessageHandler)
			})
		})
	})

	return r
}

// healthResponse is the JSON body for /healthz.
type healthResponse struct {
	Status string `json:"status"`
	DB     string `json:"db,omitempty"`
}

// healthzHandler returns 200 {"status":"ok"} when the DB is reachable,
// or 503 {"status":"degraded","db":"unavailable"} when it is not.
func healthzHandler(db *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		statusCode := http.StatusOK

		if db == nil {
			resp.Status = "degraded"
			resp.DB = "unavailable"
			statusCode = http.StatusServiceUnavailable
		} else if err := db.Ping(r.Context()); err != nil {
			slog.WarnContext(r.Context(), "healthz: db ping failed", "error", err)
			resp.Status = "degraded"
			resp.DB = "unavailable"
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.ErrorContext(r.Context(), "healthz: failed to encode response", "error", err)
		}
	}
}
