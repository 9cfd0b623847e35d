package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edumark/sheetscan/internal/api/response"
)

func TestRouter_RoutesWiredHandlers(t *testing.T) {
	deps := Dependencies{
		HealthHandler: func(w http.ResponseWriter, r *http.Request) {
			response.JSON(w, map[string]string{"status": "ok"})
		},
	}
	srv := httptest.NewServer(NewRouter(deps))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/health")
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouter_MissingHandlersRespond501(t *testing.T) {
	srv := httptest.NewServer(NewRouter(Dependencies{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/jobs/bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb")
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestRouter_UnknownRoute(t *testing.T) {
	srv := httptest.NewServer(NewRouter(Dependencies{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/nope")
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
