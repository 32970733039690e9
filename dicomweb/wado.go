package dicomweb

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/dicomweb-dimse/bridge/client"
	cfgpkg "github.com/dicomweb-dimse/bridge/config"
	"github.com/dicomweb-dimse/bridge/dicom"
	dicomerrors "github.com/dicomweb-dimse/bridge/errors"
	"github.com/dicomweb-dimse/bridge/mediator"
	"github.com/dicomweb-dimse/bridge/multipart"
	"github.com/dicomweb-dimse/bridge/render"
	"github.com/dicomweb-dimse/bridge/types"
)

// qrSOPClassMove picks the information model SOP class UID for a C-MOVE at
// the given level. Worklist has no retrieve operation.
func qrSOPClassMove(level QueryLevel) string {
	return types.StudyRootQueryRetrieveInformationModelMove
}

// handleWADORetrieveStudy serves GET /aets/{aet}/studies/{study}.
func (reg *Registry) handleWADORetrieveStudy(w http.ResponseWriter, r *http.Request) {
	reg.runWADORetrieve(w, r, LevelStudy, wadoMatch(r))
}

// handleWADORetrieveSeries serves GET /aets/{aet}/studies/{study}/series/{series}.
func (reg *Registry) handleWADORetrieveSeries(w http.ResponseWriter, r *http.Request) {
	reg.runWADORetrieve(w, r, LevelSeries, wadoMatch(r))
}

// handleWADORetrieveInstance serves
// GET /aets/{aet}/studies/{study}/series/{series}/instances/{instance}.
func (reg *Registry) handleWADORetrieveInstance(w http.ResponseWriter, r *http.Request) {
	reg.runWADORetrieve(w, r, LevelImage, wadoMatch(r))
}

// wadoMatch collects the path-supplied Study/Series/SOP Instance UIDs into
// the unique-key map buildMoveIdentifier expects.
func wadoMatch(r *http.Request) map[dicom.Tag]string {
	match := make(map[dicom.Tag]string)
	if study := pathParam(r, "study"); study != "" {
		match[dicom.Tag{Group: 0x0020, Element: 0x000D}] = study
	}
	if series := pathParam(r, "series"); series != "" {
		match[dicom.Tag{Group: 0x0020, Element: 0x000E}] = series
	}
	if instance := pathParam(r, "instance"); instance != "" {
		match[dicom.Tag{Group: 0x0008, Element: 0x0018}] = instance
	}
	return match
}

// runWADORetrieve drives a C-MOVE against rt's backend and streams every
// file the Store-SCP receives back as a multipart/related response. Per
// DICOMweb semantics an empty result set is HTTP 404, not an empty envelope.
func (reg *Registry) runWADORetrieve(w http.ResponseWriter, r *http.Request, level QueryLevel, match map[dicom.Tag]string) {
	rt, ok := reg.resolveAET(w, r)
	if !ok {
		return
	}
	if !rt.serves() {
		writeError(w, http.StatusServiceUnavailable, "WADO-RS is disabled for this AE title")
		return
	}

	ctx, cancel := timeoutContext(r.Context(), rt.WADOTimeout)
	defer cancel()

	files, errc, err := reg.retrieveFiles(ctx, rt, level, match)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	first, ok := <-files
	if !ok {
		if err := <-errc; err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNotFound)
		return
	}

	studyUID := match[dicom.Tag{Group: 0x0020, Element: 0x000D}]
	w.Header().Set("Content-Type", multipart.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, studyUID))
	w.WriteHeader(http.StatusOK)

	mw := multipart.NewWriter(w)
	_ = mw.WritePart(first)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	for body := range files {
		_ = mw.WritePart(body)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
	_ = mw.Close()
	if err := <-errc; err != nil {
		reg.logger.Warn().Err(err).Msg("WADO retrieve ended with error after streaming began")
	}
}

// handleWADOMetadataStudy/Series/Instance serve the …/metadata variants:
// retrieve as above, then strip bulk data and serialise as DICOM JSON.
func (reg *Registry) handleWADOMetadataStudy(w http.ResponseWriter, r *http.Request) {
	reg.runWADOMetadata(w, r, LevelStudy, wadoMatch(r))
}

func (reg *Registry) handleWADOMetadataSeries(w http.ResponseWriter, r *http.Request) {
	reg.runWADOMetadata(w, r, LevelSeries, wadoMatch(r))
}

func (reg *Registry) handleWADOMetadataInstance(w http.ResponseWriter, r *http.Request) {
	reg.runWADOMetadata(w, r, LevelImage, wadoMatch(r))
}

func (reg *Registry) runWADOMetadata(w http.ResponseWriter, r *http.Request, level QueryLevel, match map[dicom.Tag]string) {
	rt, ok := reg.resolveAET(w, r)
	if !ok {
		return
	}
	if !rt.serves() {
		writeError(w, http.StatusServiceUnavailable, "WADO-RS is disabled for this AE title")
		return
	}

	ctx, cancel := timeoutContext(r.Context(), rt.WADOTimeout)
	defer cancel()

	datasets, err := reg.collectRetrieve(ctx, rt, level, match)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(datasets) == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	results := make([]map[string]jsonElement, len(datasets))
	for i, ds := range datasets {
		StripBulkData(ds, DefaultBulkDataThreshold)
		results[i] = ToDICOMJSON(ds)
	}
	writeJSON(w, http.StatusOK, results)
}

// handleWADORenderInstance/handleWADOThumbnailInstance serve
// …/rendered and …/thumbnail for a single SOP instance (the only level at
// which a frame is meaningful to render).
func (reg *Registry) handleWADORenderInstance(w http.ResponseWriter, r *http.Request) {
	reg.runWADORender(w, r, wadoMatch(r))
}

func (reg *Registry) handleWADOThumbnailInstance(w http.ResponseWriter, r *http.Request) {
	u := *r.URL
	u.Path = strings.TrimSuffix(u.Path, "/thumbnail") + "/rendered"
	http.Redirect(w, r, u.String(), http.StatusFound)
}

func (reg *Registry) runWADORender(w http.ResponseWriter, r *http.Request, match map[dicom.Tag]string) {
	rt, ok := reg.resolveAET(w, r)
	if !ok {
		return
	}
	if !rt.serves() {
		writeError(w, http.StatusServiceUnavailable, "WADO-RS is disabled for this AE title")
		return
	}

	quality, err := parseQuality(r.URL.Query().Get("quality"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	format := renderFormat(r.URL.Query().Get("accept"))
	window, hasWindow, err := parseWindow(r.URL.Query().Get("window"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	viewport, hasViewport, err := parseViewport(r.URL.Query().Get("viewport"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	annotations := parseAnnotations(r.URL.Query().Get("annotation"))

	ctx, cancel := timeoutContext(r.Context(), rt.WADOTimeout)
	defer cancel()

	files, errc, err := reg.retrieveFiles(ctx, rt, LevelImage, match)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	first, ok := <-files
	for range files {
		// Drain: only the first frame of the first retrieved instance is
		// rendered, but the C-MOVE must be allowed to run to completion.
	}
	if !ok {
		if err := <-errc; err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err := <-errc; err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	img, err := render.DecodeFirstFrame(first)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if hasWindow {
		img = render.ApplyWindow(img, window)
	}
	if hasViewport {
		img = render.ApplyViewport(img, viewport)
	}
	if len(annotations) > 0 {
		if meta, datasetBytes, parseErr := dicom.ParsePart10(first); parseErr == nil {
			if ds, dsErr := dicom.ParseDatasetWithTransferSyntax(datasetBytes, meta.TransferSyntaxUID); dsErr == nil {
				img = render.BurnAnnotations(img, render.AnnotationLines(ds, annotations))
			}
		}
	}

	encoded, contentType, err := render.Encode(img, format, quality)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(encoded)
}

// moveRetrieve drives a C-MOVE against rt's backend, subscribing on the
// mediator first so no sub-operation can race ahead of the subscription,
// and streams every Pending file back on the returned channel. The error
// channel carries exactly one value once files closes: nil on a clean
// Completed, or the terminal failure otherwise.
func (reg *Registry) moveRetrieve(ctx context.Context, rt *AETRuntime, level QueryLevel, match map[dicom.Tag]string) (<-chan []byte, <-chan error, error) {
	if len(rt.Receivers) == 0 {
		return nil, nil, fmt.Errorf("dicomweb: aet %s has no wado-rs.receivers configured", rt.Name)
	}
	if len(rt.Receivers) > 1 {
		reg.logger.Warn().Str("aet", rt.Name).Strs("receivers", rt.Receivers).
			Msg("wado-rs.receivers declares more than one AET; only the first is used")
	}
	receiverAET := rt.Receivers[0]
	sequential := rt.Mode == cfgpkg.ModeSequential

	var releaseSeq func()
	if sequential {
		release, err := reg.Med.AcquireSequential(ctx, rt.Name)
		if err != nil {
			return nil, nil, fmt.Errorf("dicomweb: acquire sequential permit: %w", err)
		}
		releaseSeq = release
	}

	messageID := client.NextMessageID()
	topic := mediator.Topic{Originator: rt.Name, MessageID: messageID}
	if sequential {
		topic = mediator.Topic{Originator: rt.Name}
	}

	itemCh, unsubscribe := reg.Med.Subscribe(topic)

	cleanup := func() {
		unsubscribe()
		if releaseSeq != nil {
			releaseSeq()
		}
	}

	lease, err := rt.Pool.Acquire(ctx, rt.PoolKey())
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("dicomweb: acquire association: %w", err)
	}

	moveIdentifier := buildMoveIdentifier(level, match)

	filesCh := make(chan []byte)
	errCh := make(chan error, 1)

	go func() {
		defer cleanup()
		defer close(filesCh)

		moveDone := make(chan error, 1)
		go func() {
			result, execErr := lease.Worker().Execute(ctx, func(a *client.Association) (any, error) {
				return a.SendCMove(&client.CMoveRequest{
					SOPClassUID:     qrSOPClassMove(level),
					MessageID:       messageID,
					MoveDestination: receiverAET,
					Dataset:         moveIdentifier,
				})
			})

			var moveErr error
			if execErr != nil {
				moveErr = execErr
			} else {
				responses := result.([]*client.CMoveResponse)
				if len(responses) == 0 {
					moveErr = fmt.Errorf("dicomweb: c-move produced no response")
				} else {
					terminal := responses[len(responses)-1]
					switch types.Classify(terminal.Status) {
					case types.ClassCancel:
						moveErr = dicomerrors.NewMoveCancelledError()
					case types.ClassFailure:
						moveErr = dicomerrors.NewMoveFailedError(terminal.Status)
					}
				}
			}

			if moveErr != nil {
				lease.Discard()
			} else {
				lease.Release()
			}
			_ = reg.Med.Publish(context.Background(), topic, mediator.Item{Done: true, Warning: moveErr != nil})
			moveDone <- moveErr
		}()

		for {
			select {
			case item, ok := <-itemCh:
				if !ok {
					errCh <- <-moveDone
					return
				}
				if item.Done {
					errCh <- <-moveDone
					return
				}
				select {
				case filesCh <- item.Data:
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				}
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
	}()

	return filesCh, errCh, nil
}

// collectRetrieve drains moveRetrieve fully and decodes each file into a
// Dataset, for the façades (metadata) that need the whole result set
// before responding rather than streaming it.
func (reg *Registry) collectRetrieve(ctx context.Context, rt *AETRuntime, level QueryLevel, match map[dicom.Tag]string) ([]*dicom.Dataset, error) {
	files, errc, err := reg.retrieveFiles(ctx, rt, level, match)
	if err != nil {
		return nil, err
	}

	var out []*dicom.Dataset
	for body := range files {
		meta, datasetBytes, parseErr := dicom.ParsePart10(body)
		if parseErr != nil {
			reg.logger.Warn().Err(parseErr).Msg("dropping unparsable retrieved file")
			continue
		}
		ds, parseErr := dicom.ParseDatasetWithTransferSyntax(datasetBytes, meta.TransferSyntaxUID)
		if parseErr != nil {
			reg.logger.Warn().Err(parseErr).Msg("dropping unparsable retrieved dataset")
			continue
		}
		out = append(out, ds)
	}
	if err := <-errc; err != nil {
		return out, err
	}
	return out, nil
}

// parseQuality parses the WADO-RS `quality` query parameter: 0..=100,
// defaulting to 100. A value of 101 or above is rejected.
func parseQuality(raw string) (int, error) {
	if raw == "" {
		return 100, nil
	}
	q, err := strconv.Atoi(raw)
	if err != nil || q < 0 || q > 100 {
		return 0, fmt.Errorf("dicomweb: invalid quality %q: must be 0..=100", raw)
	}
	return q, nil
}

// renderFormat maps an Accept-style value to the render package's format
// name, defaulting to JPEG.
func renderFormat(accept string) string {
	switch {
	case strings.Contains(accept, "png"):
		return "png"
	default:
		return "jpeg"
	}
}

// parseAnnotations parses `annotation=patient,technique`. Unknown kinds
// are ignored rather than rejected, per the parameter's advisory nature.
func parseAnnotations(raw string) []render.Annotation {
	if raw == "" {
		return nil
	}
	var kinds []render.Annotation
	for _, part := range strings.Split(raw, ",") {
		switch render.Annotation(strings.TrimSpace(part)) {
		case render.AnnotationPatient:
			kinds = append(kinds, render.AnnotationPatient)
		case render.AnnotationTechnique:
			kinds = append(kinds, render.AnnotationTechnique)
		}
	}
	return kinds
}

// parseWindow parses `window=center,width,function`.
func parseWindow(raw string) (render.Window, bool, error) {
	if raw == "" {
		return render.Window{}, false, nil
	}
	parts := strings.Split(raw, ",")
	if len(parts) < 2 {
		return render.Window{}, false, fmt.Errorf("dicomweb: invalid window %q", raw)
	}
	center, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return render.Window{}, false, fmt.Errorf("dicomweb: invalid window center %q", parts[0])
	}
	width, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return render.Window{}, false, fmt.Errorf("dicomweb: invalid window width %q", parts[1])
	}
	fn := render.WindowLinear
	if len(parts) >= 3 {
		switch parts[2] {
		case string(render.WindowLinearExact):
			fn = render.WindowLinearExact
		case string(render.WindowSigmoid):
			fn = render.WindowSigmoid
		default:
			fn = render.WindowLinear
		}
	}
	return render.Window{Center: center, Width: width, Function: fn}, true, nil
}

// parseViewport parses `viewport=W,H[,SX,SY,SW,SH]`: 2 comma-separated
// integers set only the output dimensions; 6 set the source crop too.
func parseViewport(raw string) (render.Viewport, bool, error) {
	if raw == "" {
		return render.Viewport{}, false, nil
	}
	parts := strings.Split(raw, ",")
	if len(parts) != 2 && len(parts) != 6 {
		return render.Viewport{}, false, fmt.Errorf("dicomweb: invalid viewport %q: need 2 or 6 values", raw)
	}
	ints := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return render.Viewport{}, false, fmt.Errorf("dicomweb: invalid viewport value %q", p)
		}
		ints[i] = n
	}
	vp := render.Viewport{ViewportW: ints[0], ViewportH: ints[1]}
	if len(ints) == 6 {
		vp.X, vp.Y, vp.W, vp.H = ints[2], ints[3], ints[4], ints[5]
	}
	return vp, true, nil
}

