package render

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/dicomweb-dimse/bridge/dicom"
)

// Annotation selects which burned-in text block a rendered response
// carries, per the `annotation` query parameter of the rendered resource.
type Annotation string

const (
	AnnotationPatient   Annotation = "patient"
	AnnotationTechnique Annotation = "technique"
)

// AnnotationLines extracts the display text for the requested annotation
// kinds from the instance's data set. Missing attributes produce no line
// rather than an empty label.
func AnnotationLines(ds *dicom.Dataset, kinds []Annotation) []string {
	var lines []string
	add := func(label, value string) {
		if value != "" {
			lines = append(lines, label+": "+value)
		}
	}
	for _, kind := range kinds {
		switch kind {
		case AnnotationPatient:
			add("Patient", ds.GetString(dicom.Tag{Group: 0x0010, Element: 0x0010}))
			add("Patient ID", ds.GetString(dicom.Tag{Group: 0x0010, Element: 0x0020}))
			add("DOB", ds.GetString(dicom.Tag{Group: 0x0010, Element: 0x0030}))
		case AnnotationTechnique:
			add("Modality", ds.GetString(dicom.Tag{Group: 0x0008, Element: 0x0060}))
			add("Body Part", ds.GetString(dicom.Tag{Group: 0x0018, Element: 0x0015}))
			add("Study Date", ds.GetString(dicom.Tag{Group: 0x0008, Element: 0x0020}))
			add("Series", ds.GetString(dicom.Tag{Group: 0x0008, Element: 0x103E}))
		}
	}
	return lines
}

// BurnAnnotations draws lines as white text in img's top-left corner and
// returns the annotated copy. An empty lines slice returns img unchanged.
func BurnAnnotations(img image.Image, lines []string) image.Image {
	if len(lines) == 0 {
		return img
	}

	rgba := image.NewRGBA(img.Bounds())
	draw.Draw(rgba, img.Bounds(), img, img.Bounds().Min, draw.Src)

	x := rgba.Bounds().Min.X + 10
	y := rgba.Bounds().Min.Y + 20
	lineHeight := basicfont.Face7x13.Height + 2
	for _, line := range lines {
		drawText(rgba, line, x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255}, basicfont.Face7x13)
		y += lineHeight
	}
	return rgba
}

func drawText(img *image.RGBA, text string, x, y int, textColor color.RGBA, face font.Face) {
	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(textColor),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.Int26_6(x << 6), Y: fixed.Int26_6(y << 6)},
	}
	drawer.DrawString(text)
}
