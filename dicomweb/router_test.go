package dicomweb

import (
	"github.com/rs/zerolog/log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dicomweb-dimse/bridge/mediator"
)

func emptyRegistry() *Registry {
	return &Registry{
		aets:   map[string]*AETRuntime{},
		Med:    mediator.New(),
		logger: &log.Logger,
	}
}

func TestRouterListsAETs(t *testing.T) {
	router := NewRouter(emptyRegistry(), "", time.Second)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/aets", nil)
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRouterRoutesReachUnknownAETHandling(t *testing.T) {
	router := NewRouter(emptyRegistry(), "", time.Second)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/aets/UNKNOWN/studies"},
		{http.MethodGet, "/aets/UNKNOWN/studies/1.2.3"},
		{http.MethodGet, "/aets/UNKNOWN/studies/1.2.3/metadata"},
		{http.MethodGet, "/aets/UNKNOWN/studies/1.2.3/series/1.2.3.4"},
		{http.MethodGet, "/aets/UNKNOWN/studies/1.2.3/series/1.2.3.4/instances/1.2.3.4.5"},
		{http.MethodGet, "/aets/UNKNOWN/studies/1.2.3/series/1.2.3.4/instances/1.2.3.4.5/rendered"},
		{http.MethodGet, "/aets/UNKNOWN/modality-scheduled-procedure-steps"},
		{http.MethodPost, "/aets/UNKNOWN/studies"},
	}

	for _, p := range paths {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(p.method, p.path, nil)
		router.ServeHTTP(rr, req)

		// Every façade resolves the AE title before doing anything else, so
		// an unrecognised one always surfaces as 404, never a routing miss
		// (which chi would otherwise report as 404 with an empty body from
		// its own NotFoundHandler rather than writeError's JSON body).
		require.Equal(t, http.StatusNotFound, rr.Code, "%s %s", p.method, p.path)
		assert.Contains(t, rr.Body.String(), "unknown AE title", "%s %s", p.method, p.path)
	}
}

func TestRouterThumbnailRedirectsToRendered(t *testing.T) {
	router := NewRouter(emptyRegistry(), "", time.Second)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		"/aets/UNKNOWN/studies/1.2.3/series/1.2.3.4/instances/1.2.3.4.5/thumbnail", nil)
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "/aets/UNKNOWN/studies/1.2.3/series/1.2.3.4/instances/1.2.3.4.5/rendered",
		rr.Header().Get("Location"))
}

func TestRouterMountsUnderBasePath(t *testing.T) {
	router := NewRouter(emptyRegistry(), "/dicomweb", time.Second)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/dicomweb/aets", nil)
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/aets", nil)
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
