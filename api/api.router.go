package api

import (
	"context"
	"io"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/itsatony/w4b_v3/server/devicehub/api/middleware"
	"github.com/itsatony/w4b_v3/server/devicehub/api/resources"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/hubservice"
)

// Options of the HTTP surface. Authentication is on when Keycloak is
// configured. AccessLog, when set, receives combined-format access lines.
// MetricsPath additionally mounts Metrics outside the API prefix.
// HealthCheck, when set, turns a failing backend into 503 health answers.
type Options struct {
	Keycloak       middleware.KeycloakConfig
	AllowedOrigins []string
	Metrics        http.Handler
	MetricsPath    string
	AccessLog      io.Writer
	HealthCheck    func(ctx context.Context) error
}

type Router struct {
	router    *mux.Router
	auth      *middleware.KeycloakMiddleware
	resources *resources.Resources
	handler   http.Handler
}

func NewRouter(svc *hubservice.HubService, opts Options) *Router {
	r := &Router{
		router:    mux.NewRouter(),
		resources: resources.NewResources(svc),
	}
	if opts.Keycloak.Enabled() {
		r.auth = middleware.NewKeycloakMiddleware(opts.Keycloak)
	}
	if opts.HealthCheck != nil {
		r.resources.SetHealthCheck(resources.BackendHealthCheck(opts.HealthCheck))
	}
	if opts.Metrics != nil {
		r.resources.SetMetrics(opts.Metrics.ServeHTTP)
		if opts.MetricsPath != "" {
			r.router.Handle(opts.MetricsPath, opts.Metrics).Methods(http.MethodGet)
		}
	}

	r.setupRoutes()

	var h http.Handler = r.router
	if len(opts.AllowedOrigins) > 0 {
		h = handlers.CORS(
			handlers.AllowedOrigins(opts.AllowedOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
		)(h)
	}
	if opts.AccessLog != nil {
		h = handlers.CombinedLoggingHandler(opts.AccessLog, h)
	}
	r.handler = handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(h)
	return r
}

func (r *Router) setupRoutes() {
	// API version prefix
	api := r.router.PathPrefix("/api/v1").Subrouter()

	// Public routes
	api.HandleFunc("/health", r.resources.HealthCheck).Methods(http.MethodGet)
	api.HandleFunc("/metrics", r.resources.Metrics).Methods(http.MethodGet)

	// Protected routes
	protected := api.NewRoute().Subrouter()
	if r.auth != nil {
		protected.Use(r.auth.Authenticate)
	}

	protected.HandleFunc("/decoders", r.resources.Payloads.ListDecoders).Methods(http.MethodGet)
	protected.HandleFunc("/payloads/{action}", r.resources.Payloads.ProcessPayload).Methods(http.MethodPost)

	// Devices
	devices := protected.PathPrefix("/devices").Subrouter()
	devices.HandleFunc("", r.resources.Devices.CreateDevice).Methods(http.MethodPost)
	devices.HandleFunc("/{id}", r.resources.Devices.GetDevice).Methods(http.MethodGet)
	devices.HandleFunc("/{id}/engine/{engineId}", r.resources.Devices.AttachEngine).Methods(http.MethodPut)
	devices.HandleFunc("/{id}/engine", r.resources.Devices.DetachEngine).Methods(http.MethodDelete)
	devices.HandleFunc("/{id}/asset/{assetId}", r.resources.Devices.LinkAsset).Methods(http.MethodPut)
	devices.HandleFunc("/{id}/asset", r.resources.Devices.UnlinkAsset).Methods(http.MethodDelete)

	// Engines and their assets
	protected.HandleFunc("/engines", r.resources.Engines.ListEngines).Methods(http.MethodGet)
	engines := protected.PathPrefix("/engines/{engineId}").Subrouter()
	engines.HandleFunc("", r.resources.Engines.CreateEngine).Methods(http.MethodPost)
	engines.HandleFunc("", r.resources.Engines.GetEngine).Methods(http.MethodGet)
	engines.HandleFunc("", r.resources.Engines.DeleteEngine).Methods(http.MethodDelete)
	engines.HandleFunc("/devices/{id}/measures", r.resources.Engines.DeviceHistory).Methods(http.MethodGet)
	engines.HandleFunc("/assets", r.resources.Assets.CreateAsset).Methods(http.MethodPost)
	engines.HandleFunc("/assets", r.resources.Assets.ListAssets).Methods(http.MethodGet)
	engines.HandleFunc("/assets/{assetId}", r.resources.Assets.GetAsset).Methods(http.MethodGet)
	engines.HandleFunc("/assets/{assetId}", r.resources.Assets.DeleteAsset).Methods(http.MethodDelete)
	engines.HandleFunc("/assets/{assetId}/devices", r.resources.Assets.GetLinkedDevices).Methods(http.MethodGet)
	engines.HandleFunc("/assets/{assetId}/measures", r.resources.Assets.RegisterMeasures).Methods(http.MethodPost)
	engines.HandleFunc("/assets/{assetId}/measures", r.resources.Assets.GetHistory).Methods(http.MethodGet)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}
