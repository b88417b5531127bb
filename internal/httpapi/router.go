package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/connexus-ai/kmemory/internal/middleware"
)

// RouterDeps adds the frontend origin and optional metrics to Deps for
// router construction, mirroring the teacher's router.Dependencies without
// the authentication/billing fields this spec's scope never needed (§1:
// "credential/authorization configuration" is out of scope).
type RouterDeps struct {
	Deps
	FrontendURL string
	Metrics     *middleware.Metrics
	// RateLimit, when non-nil, caps requests per remote address. Optional;
	// nil disables it (the in-process test-friendly default).
	RateLimit *middleware.RateLimiter
}

// New builds the Chi router for the ingest/query HTTP surface (spec §6).
// Grounded on the teacher's internal/router/router.go: same global
// middleware stack (security headers, request logging, CORS, monitoring),
// same JSON envelope shape, same per-route write-timeout wrapping — with
// the teacher's Firebase/internal-auth middleware omitted, since
// credential/authorization configuration is explicitly out of scope here.
// The rate limiter is kept, generalized from its teacher shape (keyed by
// an authenticated user ID) to keying by remote address, since it's a
// DoS-backpressure concern rather than an authorization one.
func New(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(deps.FrontendURL))
	if deps.Metrics != nil {
		r.Use(middleware.Monitoring(deps.Metrics))
	}
	if deps.RateLimit != nil {
		r.Use(middleware.RateLimit(deps.RateLimit))
	}

	r.Get("/api/health", Health())

	timeout30s := middleware.Timeout(30 * time.Second)
	timeout120s := middleware.Timeout(120 * time.Second)

	r.With(timeout120s).Post("/api/import/document", ImportDocument(deps.Deps))
	r.With(timeout120s).Post("/api/import/text", ImportText(deps.Deps))
	r.With(timeout120s).Post("/api/import/webpage", ImportWebPage(deps.Deps))

	r.With(timeout30s).Get("/api/search", Search(deps.Deps))
	r.With(timeout30s).Get("/api/ask", Ask(deps.Deps))
	r.With(timeout30s).Get("/api/list", List(deps.Deps))
	r.With(timeout30s).Delete("/api/documents/{id}", Delete(deps.Deps))
	r.With(timeout30s).Get("/api/documents/{id}/status", Status(deps.Deps))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: "route not found"})
	})

	return r
}
