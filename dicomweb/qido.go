package dicomweb

import (
	"net/http"

	"github.com/dicomweb-dimse/bridge/dicom"
)

// handleQIDOStudies serves GET /aets/{aet}/studies.
func (reg *Registry) handleQIDOStudies(w http.ResponseWriter, r *http.Request) {
	reg.runQIDO(w, r, LevelStudy, nil)
}

// handleQIDOSeriesForStudy serves GET /aets/{aet}/studies/{study}/series.
func (reg *Registry) handleQIDOSeriesForStudy(w http.ResponseWriter, r *http.Request) {
	study := pathParam(r, "study")
	reg.runQIDO(w, r, LevelSeries, map[dicom.Tag]string{
		{Group: 0x0020, Element: 0x000D}: study,
	})
}

// handleQIDOInstancesForSeries serves GET
// /aets/{aet}/studies/{study}/series/{series}/instances.
func (reg *Registry) handleQIDOInstancesForSeries(w http.ResponseWriter, r *http.Request) {
	study := pathParam(r, "study")
	series := pathParam(r, "series")
	reg.runQIDO(w, r, LevelImage, map[dicom.Tag]string{
		{Group: 0x0020, Element: 0x000D}: study,
		{Group: 0x0020, Element: 0x000E}: series,
	})
}

// handleQIDOInstancesForStudy serves GET /aets/{aet}/studies/{study}/instances.
func (reg *Registry) handleQIDOInstancesForStudy(w http.ResponseWriter, r *http.Request) {
	study := pathParam(r, "study")
	reg.runQIDO(w, r, LevelImage, map[dicom.Tag]string{
		{Group: 0x0020, Element: 0x000D}: study,
	})
}

// handleQIDOSeries serves GET /aets/{aet}/series (cross-study series search).
func (reg *Registry) handleQIDOSeries(w http.ResponseWriter, r *http.Request) {
	reg.runQIDO(w, r, LevelSeries, nil)
}

// handleQIDOInstances serves GET /aets/{aet}/instances (cross-study instance search).
func (reg *Registry) handleQIDOInstances(w http.ResponseWriter, r *http.Request) {
	reg.runQIDO(w, r, LevelImage, nil)
}

func (reg *Registry) runQIDO(w http.ResponseWriter, r *http.Request, level QueryLevel, pathMatch map[dicom.Tag]string) {
	rt, ok := reg.resolveAET(w, r)
	if !ok {
		return
	}
	if rt.Plugin != nil {
		reg.pluginSearch(w, r, rt, level, pathMatch)
		return
	}
	if rt.Pool == nil {
		writeError(w, http.StatusServiceUnavailable, "QIDO is disabled for this AE title")
		return
	}

	ctx, cancel := timeoutContext(r.Context(), rt.QIDOTimeout)
	defer cancel()

	identifier := buildIdentifier(level, r, pathMatch)
	matches, err := runFind(ctx, rt, qrSOPClassFind(level), identifier)
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

func page(matches []*dicom.Dataset, offset, limit int) []*dicom.Dataset {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matches) {
		return nil
	}
	matches = matches[offset:]
	if limit >= 0 && limit < len(matches) {
		matches = matches[:limit]
	}
	return matches
}
