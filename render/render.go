// Package render decodes the first frame of a DICOM object, applies an
// optional VOI-LUT window and viewport transform, and encodes the result
// as JPEG or PNG for the WADO-RS /rendered and /thumbnail endpoints.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"

	"github.com/disintegration/imaging"
	godicom "github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// WindowFunction selects the VOI-LUT transfer function applied by Window.
type WindowFunction string

const (
	WindowLinear      WindowFunction = "Linear"
	WindowLinearExact WindowFunction = "LinearExact"
	WindowSigmoid     WindowFunction = "Sigmoid"
)

// Window describes a VOI-LUT windowing operation (DICOM PS3.3 C.11.2).
type Window struct {
	Center   float64
	Width    float64
	Function WindowFunction
}

// Viewport crops the source image to (X, Y, W, H) - when W/H are zero the
// full source extent is used - then scales to fit within (ViewportW,
// ViewportH) preserving aspect ratio, centring the result on a canvas of
// exactly that size.
type Viewport struct {
	X, Y, W, H         int
	ViewportW, ViewportH int
}

// DecodeFirstFrame parses a DICOM Part-10 file and decodes its first pixel
// data frame as a grayscale or color image, independent of the transfer
// syntax's compression.
func DecodeFirstFrame(data []byte) (image.Image, error) {
	ds, err := godicom.Parse(bytes.NewReader(data), int64(len(data)), nil)
	if err != nil {
		return nil, fmt.Errorf("render: parse dicom: %w", err)
	}

	elem, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("render: no pixel data: %w", err)
	}

	pixelInfo, ok := elem.Value.GetValue().(godicom.PixelDataInfo)
	if !ok || len(pixelInfo.Frames) == 0 {
		return nil, fmt.Errorf("render: empty pixel data")
	}

	img, err := pixelInfo.Frames[0].GetImage()
	if err != nil {
		return nil, fmt.Errorf("render: decode first frame: %w", err)
	}
	return img, nil
}

// ApplyWindow rescales img's grayscale intensities through the VOI-LUT
// function described by w. Color images pass through unchanged (windowing
// is only meaningful for grayscale modalities).
func ApplyWindow(img image.Image, w Window) image.Image {
	gray, ok := toGray16(img)
	if !ok || w.Width <= 0 {
		return img
	}

	low := w.Center - w.Width/2
	out := image.NewGray(gray.Bounds())
	for y := gray.Bounds().Min.Y; y < gray.Bounds().Max.Y; y++ {
		for x := gray.Bounds().Min.X; x < gray.Bounds().Max.X; x++ {
			v := float64(gray.Gray16At(x, y).Y)
			out.SetGray(x, y, color.Gray{Y: uint8(windowed(v, w.Center, w.Width, low, w.Function))})
		}
	}
	return out
}

func windowed(v, center, width, low float64, fn WindowFunction) float64 {
	switch fn {
	case WindowSigmoid:
		return 255 / (1 + math.Exp(-4*(v-center)/width))
	case WindowLinearExact:
		if v <= center-width/2 {
			return 0
		}
		if v > center+width/2 {
			return 255
		}
		return (v-low)/width*255
	default: // Linear
		if width < 1 {
			width = 1
		}
		out := (v-low)/width*255
		if out < 0 {
			return 0
		}
		if out > 255 {
			return 255
		}
		return out
	}
}

func toGray16(img image.Image) (*image.Gray16, bool) {
	if g, ok := img.(*image.Gray16); ok {
		return g, true
	}
	if g, ok := img.(*image.Gray); ok {
		out := image.NewGray16(g.Bounds())
		for y := g.Bounds().Min.Y; y < g.Bounds().Max.Y; y++ {
			for x := g.Bounds().Min.X; x < g.Bounds().Max.X; x++ {
				v := g.GrayAt(x, y).Y
				out.SetGray16(x, y, color.Gray16{Y: uint16(v)})
			}
		}
		return out, true
	}
	return nil, false
}

// ApplyViewport crops then thumbnail-scales img per vp, centring the
// result on a canvas of exactly (vp.ViewportW, vp.ViewportH).
func ApplyViewport(img image.Image, vp Viewport) image.Image {
	if vp.ViewportW == 0 || vp.ViewportH == 0 {
		return img
	}

	src := img
	if vp.W > 0 && vp.H > 0 {
		rect := image.Rect(vp.X, vp.Y, vp.X+vp.W, vp.Y+vp.H)
		src = imaging.Crop(img, rect)
	}

	scaled := imaging.Fit(src, vp.ViewportW, vp.ViewportH, imaging.Lanczos)

	canvas := imaging.New(vp.ViewportW, vp.ViewportH, color.Black)
	offsetX := (vp.ViewportW - scaled.Bounds().Dx()) / 2
	offsetY := (vp.ViewportH - scaled.Bounds().Dy()) / 2
	return imaging.Paste(canvas, scaled, image.Pt(offsetX, offsetY))
}

// Encode serialises img as "jpeg" or "png". quality (0..100, applies only
// to JPEG) defaults to 100 when <= 0 or > 100 is clamped to 100; callers
// must reject quality == 101 before calling Encode per the HTTP contract.
func Encode(img image.Image, format string, quality int) ([]byte, string, error) {
	var buf bytes.Buffer
	switch format {
	case "png":
		if err := png.Encode(&buf, img); err != nil {
			return nil, "", fmt.Errorf("render: encode png: %w", err)
		}
		return buf.Bytes(), "image/png", nil
	case "jpeg", "":
		if quality <= 0 || quality > 100 {
			quality = 100
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, "", fmt.Errorf("render: encode jpeg: %w", err)
		}
		return buf.Bytes(), "image/jpeg", nil
	default:
		return nil, "", fmt.Errorf("render: unsupported format %q", format)
	}
}
