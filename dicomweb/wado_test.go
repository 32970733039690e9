package dicomweb

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dicomweb-dimse/bridge/dicom"
	"github.com/dicomweb-dimse/bridge/render"
	"github.com/dicomweb-dimse/bridge/types"
)

func TestQrSOPClassMoveUsesStudyRootForEveryLevel(t *testing.T) {
	for _, level := range []QueryLevel{LevelStudy, LevelSeries, LevelImage} {
		assert.Equal(t, types.StudyRootQueryRetrieveInformationModelMove, qrSOPClassMove(level))
	}
}

func withURLParams(params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestWadoMatchCollectsOnlyPresentUIDs(t *testing.T) {
	r := withURLParams(map[string]string{"study": "1.2.3", "series": "1.2.3.4"})
	match := wadoMatch(r)

	assert.Equal(t, "1.2.3", match[dicom.Tag{Group: 0x0020, Element: 0x000D}])
	assert.Equal(t, "1.2.3.4", match[dicom.Tag{Group: 0x0020, Element: 0x000E}])
	_, hasInstance := match[dicom.Tag{Group: 0x0008, Element: 0x0018}]
	assert.False(t, hasInstance)
}

func TestParseQuality(t *testing.T) {
	q, err := parseQuality("")
	require.NoError(t, err)
	assert.Equal(t, 100, q)

	q, err = parseQuality("42")
	require.NoError(t, err)
	assert.Equal(t, 42, q)

	_, err = parseQuality("101")
	assert.Error(t, err)

	_, err = parseQuality("-1")
	assert.Error(t, err)

	_, err = parseQuality("not-a-number")
	assert.Error(t, err)
}

func TestRenderFormatDefaultsToJPEG(t *testing.T) {
	assert.Equal(t, "jpeg", renderFormat(""))
	assert.Equal(t, "jpeg", renderFormat("image/jpeg"))
	assert.Equal(t, "png", renderFormat("image/png"))
}

func TestParseWindowDefaultsToLinear(t *testing.T) {
	w, ok, err := parseWindow("")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, render.Window{}, w)

	w, ok, err = parseWindow("40,400")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 40.0, w.Center)
	assert.Equal(t, 400.0, w.Width)
	assert.Equal(t, render.WindowLinear, w.Function)

	w, ok, err = parseWindow("40,400,Sigmoid")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, render.WindowSigmoid, w.Function)

	_, _, err = parseWindow("40")
	assert.Error(t, err)

	_, _, err = parseWindow("nope,400")
	assert.Error(t, err)
}

func TestParseAnnotationsIgnoresUnknownKinds(t *testing.T) {
	assert.Nil(t, parseAnnotations(""))
	assert.Equal(t, []render.Annotation{render.AnnotationPatient}, parseAnnotations("patient"))
	assert.Equal(t,
		[]render.Annotation{render.AnnotationPatient, render.AnnotationTechnique},
		parseAnnotations("patient,technique"))
	assert.Nil(t, parseAnnotations("burnout,unknown"))
}

func TestRetrieveSelectionPullsUniqueKeys(t *testing.T) {
	study, series, instance := retrieveSelection(map[dicom.Tag]string{
		{Group: 0x0020, Element: 0x000D}: "1.2.3",
		{Group: 0x0008, Element: 0x0018}: "1.2.3.4.5",
	})
	assert.Equal(t, "1.2.3", study)
	assert.Empty(t, series)
	assert.Equal(t, "1.2.3.4.5", instance)
}

func TestParseViewport(t *testing.T) {
	vp, ok, err := parseViewport("")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, render.Viewport{}, vp)

	vp, ok, err = parseViewport("512,512")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 512, vp.ViewportW)
	assert.Equal(t, 512, vp.ViewportH)
	assert.Equal(t, 0, vp.W)

	vp, ok, err = parseViewport("512,512,10,20,200,300")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 10, vp.X)
	assert.Equal(t, 20, vp.Y)
	assert.Equal(t, 200, vp.W)
	assert.Equal(t, 300, vp.H)

	_, _, err = parseViewport("512,512,10")
	assert.Error(t, err)

	_, _, err = parseViewport("a,b")
	assert.Error(t, err)
}
