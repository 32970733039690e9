package dicomweb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/dicomweb-dimse/bridge/client"
	"github.com/dicomweb-dimse/bridge/dicom"
	"github.com/dicomweb-dimse/bridge/types"
	stdmultipart "mime/multipart"
)

// handleSTOWStudies serves POST /aets/{aet}/studies (and, since the SOP
// instances in the body carry their own Study Instance UID, the
// path-scoped POST /aets/{aet}/studies/{study} is routed here too - the
// path UID is accepted but not cross-checked against the body).
func (reg *Registry) handleSTOW(w http.ResponseWriter, r *http.Request) {
	rt, ok := reg.resolveAET(w, r)
	if !ok {
		return
	}
	if !rt.serves() {
		writeError(w, http.StatusServiceUnavailable, "STOW is disabled for this AE title")
		return
	}

	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		writeError(w, http.StatusBadRequest, "expected multipart/related request body")
		return
	}
	boundary := params["boundary"]
	if boundary == "" {
		writeError(w, http.StatusBadRequest, "missing multipart boundary")
		return
	}

	ctx, cancel := timeoutContext(r.Context(), rt.STOWTimeout)
	defer cancel()

	reader := stdmultipart.NewReader(r.Body, boundary)
	response := dicom.NewDataset()
	var referenced, failed []*dicom.Dataset

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds max-upload-size")
				return
			}
			writeError(w, http.StatusBadRequest, fmt.Sprintf("malformed multipart body: %v", err))
			return
		}

		body, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds max-upload-size")
				return
			}
			writeError(w, http.StatusBadRequest, fmt.Sprintf("reading part: %v", err))
			continue
		}

		item, storeErr := reg.storeOne(ctx, rt, body)
		if storeErr != nil {
			failed = append(failed, item)
			continue
		}
		referenced = append(referenced, item)
	}

	if len(referenced) > 0 {
		response.AddElement(dicom.Tag{Group: 0x0008, Element: 0x1199}, dicom.VR_SQ, referenced) // Referenced SOP Sequence
	}
	if len(failed) > 0 {
		response.AddElement(dicom.Tag{Group: 0x0008, Element: 0x1198}, dicom.VR_SQ, failed) // Failed SOP Sequence
	}

	writeJSON(w, http.StatusOK, ToDICOMJSON(response))
}

// storeOne parses a single multipart body part as a Part 10 file and
// stores it through rt's backend - a C-STORE sub-operation for a DIMSE
// peer, a bucket write for S3, the plugin's store hook otherwise -
// returning a sequence item describing the outcome either way: SOP
// Class/Instance UID plus, on failure, a Failure Reason.
func (reg *Registry) storeOne(ctx context.Context, rt *AETRuntime, body []byte) (*dicom.Dataset, error) {
	item := dicom.NewDataset()

	meta, datasetBytes, err := dicom.ParsePart10(body)
	if err != nil {
		item.AddElement(dicom.Tag{Group: 0x0008, Element: 0x1197}, dicom.VR_US, uint16(0x0110)) // Failure Reason: processing failure
		return item, fmt.Errorf("dicomweb: parse part 10: %w", err)
	}

	item.AddElement(dicom.Tag{Group: 0x0008, Element: 0x1150}, dicom.VR_UI, meta.SOPClassUID)    // Referenced SOP Class UID
	item.AddElement(dicom.Tag{Group: 0x0008, Element: 0x1155}, dicom.VR_UI, meta.SOPInstanceUID) // Referenced SOP Instance UID

	if rt.S3 != nil {
		if err := reg.storeOneS3(ctx, rt, meta, datasetBytes, body); err != nil {
			item.AddElement(dicom.Tag{Group: 0x0008, Element: 0x1197}, dicom.VR_US, uint16(0x0110))
			return item, err
		}
		return item, nil
	}
	if rt.Plugin != nil {
		_, failed, err := rt.Plugin.Store(ctx, [][]byte{body})
		if err != nil {
			item.AddElement(dicom.Tag{Group: 0x0008, Element: 0x1197}, dicom.VR_US, uint16(0x0110))
			return item, fmt.Errorf("dicomweb: plugin store: %w", err)
		}
		if len(failed) > 0 {
			item.AddElement(dicom.Tag{Group: 0x0008, Element: 0x1197}, dicom.VR_US, uint16(0x0110))
			return item, fmt.Errorf("dicomweb: plugin rejected instance %s", meta.SOPInstanceUID)
		}
		return item, nil
	}

	lease, err := rt.Pool.Acquire(ctx, rt.PoolKey())
	if err != nil {
		item.AddElement(dicom.Tag{Group: 0x0008, Element: 0x1197}, dicom.VR_US, uint16(0xA700)) // Failure Reason: out of resources
		return item, fmt.Errorf("dicomweb: acquire association: %w", err)
	}

	messageID := client.NextMessageID()
	result, err := lease.Worker().Execute(ctx, func(a *client.Association) (any, error) {
		return a.SendCStore(&client.CStoreRequest{
			SOPClassUID:       meta.SOPClassUID,
			SOPInstanceUID:    meta.SOPInstanceUID,
			Data:              datasetBytes,
			MessageID:         messageID,
			TransferSyntaxUID: meta.TransferSyntaxUID,
		})
	})
	if err != nil {
		lease.Discard()
		item.AddElement(dicom.Tag{Group: 0x0008, Element: 0x1197}, dicom.VR_US, uint16(0x0110)) // Failure Reason: processing failure
		return item, fmt.Errorf("dicomweb: c-store: %w", err)
	}
	lease.Release()

	resp := result.(*client.CStoreResponse)
	if types.Classify(resp.Status) == types.ClassFailure {
		item.AddElement(dicom.Tag{Group: 0x0008, Element: 0x1197}, dicom.VR_US, resp.Status)
		return item, fmt.Errorf("dicomweb: c-store failed with status 0x%04X", resp.Status)
	}

	return item, nil
}

// storeOneS3 writes one instance into rt's bucket under its
// study/series/instance key. The study and series UIDs live in the data
// set, not the file meta, so the data set has to parse for the key to be
// derivable.
func (reg *Registry) storeOneS3(ctx context.Context, rt *AETRuntime, meta dicom.Part10Meta, datasetBytes, body []byte) error {
	ds, err := dicom.ParseDatasetWithTransferSyntax(datasetBytes, meta.TransferSyntaxUID)
	if err != nil {
		return fmt.Errorf("dicomweb: parse dataset for s3 key: %w", err)
	}
	study := ds.GetString(dicom.Tag{Group: 0x0020, Element: 0x000D})
	series := ds.GetString(dicom.Tag{Group: 0x0020, Element: 0x000E})
	if study == "" {
		return fmt.Errorf("dicomweb: instance %s carries no StudyInstanceUID", meta.SOPInstanceUID)
	}
	if err := rt.S3.Put(ctx, study, series, meta.SOPInstanceUID, body); err != nil {
		return fmt.Errorf("dicomweb: s3 store: %w", err)
	}
	return nil
}
