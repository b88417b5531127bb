package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connexus-ai/kmemory/internal/config"
	"github.com/connexus-ai/kmemory/internal/httpapi"
	"github.com/connexus-ai/kmemory/internal/wiring"
)

func TestVersion(t *testing.T) {
	assert.NotEmpty(t, Version)
}

func TestHealthEndpoint(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	components, err := wiring.Build(t.Context(), cfg)
	require.NoError(t, err)
	defer components.Close()

	router := httpapi.New(httpapi.RouterDeps{
		Deps: httpapi.Deps{
			Orchestrator: components.Orchestrator,
			Search:       components.Search,
			HTTPClient:   &http.Client{Timeout: 5 * time.Second},
		},
		FrontendURL: cfg.FrontendURL,
	})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthEndpoint_MethodNotAllowed(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	components, err := wiring.Build(t.Context(), cfg)
	require.NoError(t, err)
	defer components.Close()

	router := httpapi.New(httpapi.RouterDeps{
		Deps: httpapi.Deps{
			Orchestrator: components.Orchestrator,
			Search:       components.Search,
			HTTPClient:   &http.Client{Timeout: 5 * time.Second},
		},
		FrontendURL: cfg.FrontendURL,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
