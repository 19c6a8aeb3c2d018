package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadflow/internal/config"
	"leadflow/internal/logger"
)

func TestHTTPServerRoutes(t *testing.T) {
	app := NewApp(&config.Config{Server: config.ServerConfig{Port: 8080}}, logger.NopLogger())
	require.NoError(t, app.initHTTPServer())

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{path: "/swagger/doc.json", wantStatus: http.StatusOK, wantBody: "/workspaces/{workspace_id}/redistribute"},
		{path: "/swagger/index.html", wantStatus: http.StatusOK, wantBody: "swagger"},
		{path: "/metrics", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			app.server.Handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Contains(t, rec.Body.String(), tt.wantBody)
			}
		})
	}
}
