// Package dicomweb implements the QIDO-RS, WADO-RS, STOW-RS and MWL-RS
// HTTP façades over the DIMSE service-user layer, plus the DICOM JSON
// (PS3.18 Annex F) encoding and bulk-data filtering those façades share.
package dicomweb

import (
	"fmt"
	"strconv"

	"github.com/dicomweb-dimse/bridge/dicom"
)

// jsonElement is one entry of a DICOM JSON object: {"vr": "...", "Value": [...]}.
type jsonElement struct {
	VR    string `json:"vr"`
	Value []any  `json:"Value,omitempty"`
}

// bulkDataTags are always stripped from WADO metadata regardless of size.
var bulkDataTags = map[dicom.Tag]bool{
	{Group: 0x7FE0, Element: 0x0010}: true, // PixelData
	{Group: 0x7FE0, Element: 0x0008}: true, // FloatPixelData
	{Group: 0x7FE0, Element: 0x0009}: true, // DoubleFloatPixelData
	{Group: 0x0028, Element: 0x7FE0}: true, // PixelDataProviderURL
	{Group: 0x5600, Element: 0x0020}: true, // SpectroscopyData
	{Group: 0x0042, Element: 0x0011}: true, // EncapsulatedDocument
}

var bulkDataVRs = map[string]bool{
	dicom.VR_OB: true,
	dicom.VR_OW: true,
	dicom.VR_OD: true,
	dicom.VR_OF: true,
	dicom.VR_OL: true,
}

// DefaultBulkDataThreshold is the default byte length above which UN/UT
// elements are stripped from WADO metadata responses.
const DefaultBulkDataThreshold = 10240

// ToDICOMJSON encodes ds as a DICOM JSON object keyed by "GGGGEEEE" tags.
func ToDICOMJSON(ds *dicom.Dataset) map[string]jsonElement {
	out := make(map[string]jsonElement, len(ds.Elements))
	for tag, el := range ds.Elements {
		key := fmt.Sprintf("%04X%04X", tag.Group, tag.Element)
		out[key] = jsonElement{VR: el.VR, Value: valuesFor(el)}
	}
	return out
}

func valuesFor(el *dicom.Element) []any {
	switch v := el.Value.(type) {
	case string:
		return []any{v}
	case []string:
		vals := make([]any, len(v))
		for i, s := range v {
			vals[i] = s
		}
		return vals
	case int, int32, int64, uint16, uint32:
		return []any{v}
	case []byte:
		return nil
	case []*dicom.Dataset:
		vals := make([]any, len(v))
		for i, item := range v {
			vals[i] = ToDICOMJSON(item)
		}
		return vals
	default:
		if v == nil {
			return nil
		}
		return []any{v}
	}
}

// StripBulkData removes elements that must not appear in a WADO metadata
// response: the fixed tag set, any OB/OW/OD/OF/OL element, and any UN/UT
// element longer than threshold. Recurses into sequence items.
func StripBulkData(ds *dicom.Dataset, threshold int) {
	if threshold <= 0 {
		threshold = DefaultBulkDataThreshold
	}
	for tag, el := range ds.Elements {
		if bulkDataTags[tag] || bulkDataVRs[el.VR] {
			delete(ds.Elements, tag)
			continue
		}
		if el.VR == dicom.VR_UN || el.VR == dicom.VR_UT {
			if length(el.Value) > threshold {
				delete(ds.Elements, tag)
				continue
			}
		}
		if nested, ok := el.Value.(*dicom.Dataset); ok {
			StripBulkData(nested, threshold)
		}
		if nestedList, ok := el.Value.([]*dicom.Dataset); ok {
			for _, item := range nestedList {
				StripBulkData(item, threshold)
			}
		}
	}
}

func length(v any) int {
	switch val := v.(type) {
	case string:
		return len(val)
	case []byte:
		return len(val)
	default:
		return 0
	}
}

// parseTagSelector parses either a single hexadecimal "GGGGEEEE" tag or
// a nested selector "GGGGEEEE.GGGGEEEE" addressing into a sequence item,
// returning the path of tags to walk.
func parseTagSelector(s string) ([]dicom.Tag, error) {
	var path []dicom.Tag
	for _, part := range splitDot(s) {
		if len(part) != 8 {
			return nil, fmt.Errorf("dicomweb: invalid tag selector %q", s)
		}
		group, err := strconv.ParseUint(part[0:4], 16, 16)
		if err != nil {
			return nil, fmt.Errorf("dicomweb: invalid tag selector %q: %w", s, err)
		}
		elem, err := strconv.ParseUint(part[4:8], 16, 16)
		if err != nil {
			return nil, fmt.Errorf("dicomweb: invalid tag selector %q: %w", s, err)
		}
		path = append(path, dicom.Tag{Group: uint16(group), Element: uint16(elem)})
	}
	return path, nil
}

func splitDot(s string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}
