package dicomweb

import (
	"net/http"
	"strings"

	"github.com/dicomweb-dimse/bridge/dicom"
)

// reservedQueryParams are QIDO/MWL query string parameters with their own
// meaning rather than being match criteria.
var reservedQueryParams = map[string]bool{
	"includefield":  true,
	"limit":         true,
	"offset":        true,
	"fuzzymatching": true,
}

// spsAttributes is the set of tags that belong inside a worklist
// identifier's nested Scheduled Procedure Step Sequence item rather than
// at the identifier's top level.
var spsAttributes = func() map[dicom.Tag]bool {
	m := make(map[dicom.Tag]bool)
	for _, t := range scheduledProcedureStepAttributes() {
		m[t] = true
	}
	return m
}()

// buildIdentifier assembles a C-FIND identifier for level: the level's
// default attribute set, overlaid with any includefield attributes and
// match criteria found in the request's query string, plus any tags
// supplied out-of-band via pathMatch (e.g. a StudyInstanceUID taken from
// the URL path rather than the query string).
func buildIdentifier(level QueryLevel, r *http.Request, pathMatch map[dicom.Tag]string) *dicom.Dataset {
	ds := dicom.NewDataset()

	var sps *dicom.Dataset
	spsTouched := false
	if level == LevelWorklist {
		sps = dicom.NewDataset()
	}

	addEmpty := func(tag dicom.Tag) {
		if sps != nil && spsAttributes[tag] {
			if _, ok := sps.GetElement(tag); !ok {
				sps.AddElement(tag, dicom.DetermineVR(tag), "")
			}
			return
		}
		if _, ok := ds.GetElement(tag); !ok {
			ds.AddElement(tag, dicom.DetermineVR(tag), "")
		}
	}

	setValue := func(tag dicom.Tag, value string) {
		if sps != nil && spsAttributes[tag] {
			sps.AddElement(tag, dicom.DetermineVR(tag), value)
			spsTouched = true
			return
		}
		ds.AddElement(tag, dicom.DetermineVR(tag), value)
	}

	for _, tag := range defaultAttributes(level) {
		addEmpty(tag)
	}
	if level == LevelWorklist {
		for _, tag := range scheduledProcedureStepAttributes() {
			addEmpty(tag)
		}
	}

	if level != LevelWorklist {
		ds.AddElement(dicom.Tag{Group: 0x0008, Element: 0x0052}, dicom.VR_CS, string(level))
	}

	query := r.URL.Query()
	if !includefieldAll(query["includefield"]) {
		for _, name := range query["includefield"] {
			for _, field := range strings.Split(name, ",") {
				field = strings.TrimSpace(field)
				if field == "" {
					continue
				}
				if tag, ok := resolveTag(field); ok {
					addEmpty(tag)
				}
			}
		}
	}

	for name, values := range query {
		if reservedQueryParams[name] || len(values) == 0 {
			continue
		}
		tag, ok := resolveTag(name)
		if !ok {
			continue
		}
		setValue(tag, values[0])
	}

	for tag, value := range pathMatch {
		setValue(tag, value)
	}

	if level == LevelWorklist && (spsTouched || len(spsAttributes) > 0) {
		ds.AddElement(dicom.Tag{Group: 0x0040, Element: 0x0100}, dicom.VR_SQ, []*dicom.Dataset{sps})
	}

	return ds
}

// buildMoveIdentifier builds a minimal C-MOVE identifier: the
// query-retrieve level plus the unique keys supplied in match, e.g. a
// StudyInstanceUID and optionally a SeriesInstanceUID/SOPInstanceUID.
func buildMoveIdentifier(level QueryLevel, match map[dicom.Tag]string) *dicom.Dataset {
	ds := dicom.NewDataset()
	ds.AddElement(dicom.Tag{Group: 0x0008, Element: 0x0052}, dicom.VR_CS, string(level))
	for tag, value := range match {
		ds.AddElement(tag, dicom.DetermineVR(tag), value)
	}
	return ds
}

// includefieldAll reports whether any includefield value names "all",
// which supersedes every coexisting tag-form includefield in the request:
// the default attribute set is used as-is, with no per-tag additions.
func includefieldAll(values []string) bool {
	for _, name := range values {
		for _, field := range strings.Split(name, ",") {
			if strings.TrimSpace(field) == "all" {
				return true
			}
		}
	}
	return false
}

// resolveTag resolves a query parameter name to a tag, accepting either a
// DICOM keyword or a literal "GGGGEEEE"/"GGGGEEEE.GGGGEEEE" selector. Only
// the final path element is used; intermediate sequence addressing isn't
// meaningful for identifier construction.
func resolveTag(name string) (dicom.Tag, bool) {
	if tag, ok := resolveTagKeyword(name); ok {
		return tag, true
	}
	path, err := parseTagSelector(name)
	if err != nil || len(path) == 0 {
		return dicom.Tag{}, false
	}
	return path[len(path)-1], true
}
