package dicomweb

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// writeJSON writes v as a DICOM JSON response body. A nil/empty slice is
// written as "204 No Content" with no body, per QIDO/MWL semantics for an
// empty match set.
func writeJSON(w http.ResponseWriter, status int, v any) {
	if arr, ok := v.([]map[string]jsonElement); ok && len(arr) == 0 && status == http.StatusOK {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/dicom+json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes status and a small JSON problem body carrying msg.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/dicom+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// aetFromRequest pulls the {aet} path parameter chi matched.
func aetFromRequest(r *http.Request) string {
	return chi.URLParam(r, "aet")
}

// pathParam pulls a chi path parameter by name.
func pathParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// timeoutContext derives a context bounded by d from parent, falling back
// to a generous default when d is unset.
func timeoutContext(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 30 * time.Second
	}
	return context.WithTimeout(parent, d)
}

// queryInt parses a query parameter as an int, returning def if absent or
// unparsable.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// queryBool parses a query parameter as a bool, returning def if absent or
// unparsable.
func queryBool(r *http.Request, name string, def bool) bool {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}

// resolveAET looks up the AET runtime for the request's {aet} path
// parameter, writing a 404 and returning (nil, false) if it isn't
// configured.
func (reg *Registry) resolveAET(w http.ResponseWriter, r *http.Request) (*AETRuntime, bool) {
	aet := aetFromRequest(r)
	rt, ok := reg.Lookup(aet)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown AE title: "+aet)
		return nil, false
	}
	return rt, true
}
