package dicomweb

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dicomweb-dimse/bridge/dicom"
	"github.com/dicomweb-dimse/bridge/pluginapi"
)

// serves reports whether rt has any backend able to serve requests at all.
// A runtime with none of pool/S3/plugin set means the service is disabled
// for that AE title and the façade answers 503.
func (rt *AETRuntime) serves() bool {
	return rt.Pool != nil || rt.S3 != nil || rt.Plugin != nil
}

// retrieveFiles streams the Part-10 files a WADO retrieve addresses,
// regardless of which backend serves rt: a DIMSE C-MOVE through the
// mediator, an S3 listing, or a loaded plugin. The error channel carries
// exactly one value once the file channel closes.
func (reg *Registry) retrieveFiles(ctx context.Context, rt *AETRuntime, level QueryLevel, match map[dicom.Tag]string) (<-chan []byte, <-chan error, error) {
	switch {
	case rt.S3 != nil:
		return reg.s3Retrieve(ctx, rt, match)
	case rt.Plugin != nil:
		return reg.pluginRetrieve(ctx, rt, match)
	default:
		return reg.moveRetrieve(ctx, rt, level, match)
	}
}

func retrieveSelection(match map[dicom.Tag]string) (study, series, instance string) {
	study = match[dicom.Tag{Group: 0x0020, Element: 0x000D}]
	series = match[dicom.Tag{Group: 0x0020, Element: 0x000E}]
	instance = match[dicom.Tag{Group: 0x0008, Element: 0x0018}]
	return study, series, instance
}

// s3Retrieve lists and fetches the selected instances from rt's bucket.
func (reg *Registry) s3Retrieve(ctx context.Context, rt *AETRuntime, match map[dicom.Tag]string) (<-chan []byte, <-chan error, error) {
	study, series, instance := retrieveSelection(match)
	if study == "" {
		return nil, nil, fmt.Errorf("dicomweb: s3 retrieve requires a study UID")
	}

	filesCh := make(chan []byte)
	errCh := make(chan error, 1)

	go func() {
		defer close(filesCh)

		if instance != "" {
			body, err := rt.S3.Get(ctx, study, series, instance)
			if err != nil {
				errCh <- err
				return
			}
			select {
			case filesCh <- body:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
			errCh <- nil
			return
		}

		keys, err := rt.S3.ListInstances(ctx, study, series)
		if err != nil {
			errCh <- err
			return
		}
		for _, key := range keys {
			body, err := rt.S3.GetByKey(ctx, key)
			if err != nil {
				errCh <- err
				return
			}
			select {
			case filesCh <- body:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
		errCh <- nil
	}()

	return filesCh, errCh, nil
}

// pluginRetrieve delegates the retrieve to the loaded plugin backend.
func (reg *Registry) pluginRetrieve(ctx context.Context, rt *AETRuntime, match map[dicom.Tag]string) (<-chan []byte, <-chan error, error) {
	study, series, instance := retrieveSelection(match)
	files, err := rt.Plugin.Retrieve(ctx, &pluginapi.RetrieveRequest{
		StudyUID:       study,
		SeriesUID:      series,
		SOPInstanceUID: instance,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("dicomweb: plugin retrieve: %w", err)
	}
	errCh := make(chan error, 1)
	out := make(chan []byte)
	go func() {
		defer close(out)
		for body := range files {
			select {
			case out <- body:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
		errCh <- nil
	}()
	return out, errCh, nil
}

// pluginSearch serves a QIDO request from the plugin backend.
func (reg *Registry) pluginSearch(w http.ResponseWriter, r *http.Request, rt *AETRuntime, level QueryLevel, pathMatch map[dicom.Tag]string) {
	ctx, cancel := timeoutContext(r.Context(), rt.QIDOTimeout)
	defer cancel()

	req := &pluginapi.SearchRequest{
		Level:         string(level),
		Match:         make(map[dicom.Tag]string),
		FuzzyMatching: queryBool(r, "fuzzymatching", false),
		Limit:         queryInt(r, "limit", 200),
		Offset:        queryInt(r, "offset", 0),
	}
	query := r.URL.Query()
	for name, values := range query {
		if reservedQueryParams[name] || len(values) == 0 {
			continue
		}
		if tag, ok := resolveTag(name); ok {
			req.Match[tag] = values[0]
		}
	}
	if !includefieldAll(query["includefield"]) {
		for _, name := range query["includefield"] {
			for _, field := range strings.Split(name, ",") {
				field = strings.TrimSpace(field)
				if field == "" {
					continue
				}
				if tag, ok := resolveTag(field); ok {
					req.IncludeFields = append(req.IncludeFields, tag)
				}
			}
		}
	}
	for tag, value := range pathMatch {
		req.Match[tag] = value
	}

	matches, err := rt.Plugin.Search(ctx, req)
	if err != nil {
		writePluginError(w, err)
		return
	}
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

// writePluginError maps a plugin failure to HTTP: an unsupported capability
// behaves like a disabled service (503), everything else is a back-end
// error (500).
func writePluginError(w http.ResponseWriter, err error) {
	if errors.Is(err, pluginapi.ErrNotSupported) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
