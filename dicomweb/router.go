package dicomweb

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/dicomweb-dimse/bridge/metrics"
)

// NewRouter wires every QIDO-RS/WADO-RS/STOW-RS/MWL-RS route onto a chi
// router rooted at basePath, grounded on the route-group/middleware-stack
// idiom used by OtchereDev-ris-dicom-connector's cmd/server/main.go.
// requestTimeout bounds every request's context regardless of the
// per-AET/per-service timeouts the façades themselves apply.
func NewRouter(reg *Registry, basePath string, requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5, "application/dicom+json"))
	if requestTimeout > 0 {
		r.Use(middleware.Timeout(requestTimeout))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	r.Use(instrument)

	r.Method("GET", "/metrics", metrics.Handler())

	mount := func(router chi.Router) {
		router.Get("/aets", reg.handleListAETs)

		router.Route("/aets/{aet}", func(aetRouter chi.Router) {
			aetRouter.Get("/studies", reg.handleQIDOStudies)
			aetRouter.Post("/studies", reg.handleSTOW)
			aetRouter.Get("/series", reg.handleQIDOSeries)
			aetRouter.Get("/instances", reg.handleQIDOInstances)
			aetRouter.Get("/modality-scheduled-procedure-steps", reg.handleMWL)

			aetRouter.Route("/studies/{study}", func(studyRouter chi.Router) {
				studyRouter.Get("/", reg.handleWADORetrieveStudy)
				studyRouter.Post("/", reg.handleSTOW)
				studyRouter.Get("/metadata", reg.handleWADOMetadataStudy)
				studyRouter.Get("/series", reg.handleQIDOSeriesForStudy)
				studyRouter.Get("/instances", reg.handleQIDOInstancesForStudy)

				studyRouter.Route("/series/{series}", func(seriesRouter chi.Router) {
					seriesRouter.Get("/", reg.handleWADORetrieveSeries)
					seriesRouter.Get("/metadata", reg.handleWADOMetadataSeries)
					seriesRouter.Get("/instances", reg.handleQIDOInstancesForSeries)

					seriesRouter.Route("/instances/{instance}", func(instanceRouter chi.Router) {
						instanceRouter.Get("/", reg.handleWADORetrieveInstance)
						instanceRouter.Get("/metadata", reg.handleWADOMetadataInstance)
						instanceRouter.Get("/rendered", reg.handleWADORenderInstance)
						instanceRouter.Get("/thumbnail", reg.handleWADOThumbnailInstance)
					})
				})
			})
		})
	}

	if basePath == "" || basePath == "/" {
		mount(r)
		return r
	}

	r.Route(basePath, mount)
	return r
}

// instrument records per-route request counts and latency. The route label
// is chi's matched pattern, not the raw path, so UIDs don't explode the
// label cardinality.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// handleListAETs serves GET /aets: the configured AE titles this instance
// exposes a DICOMweb façade for.
func (reg *Registry) handleListAETs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, reg.List())
}
