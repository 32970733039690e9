package dicomweb

import "net/http"

// handleMWL serves GET /aets/{aet}/modality-scheduled-procedure-steps.
func (reg *Registry) handleMWL(w http.ResponseWriter, r *http.Request) {
	rt, ok := reg.resolveAET(w, r)
	if !ok {
		return
	}
	if rt.Pool == nil {
		writeError(w, http.StatusServiceUnavailable, "MWL is disabled for this AE title")
		return
	}

	ctx, cancel := timeoutContext(r.Context(), rt.QIDOTimeout)
	defer cancel()

	identifier := buildIdentifier(LevelWorklist, r, nil)
	matches, err := runFind(ctx, rt, qrSOPClassFind(LevelWorklist), identifier)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 200)
	matches = page(matches, offset, limit)

	if len(matches) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	results := make([]map[string]jsonElement, len(matches))
	for i, ds := range matches {
		results[i] = ToDICOMJSON(ds)
	}
	writeJSON(w, http.StatusOK, results)
}
