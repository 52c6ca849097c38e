package service

import (
	"fmt"
	"image"

	"github.com/anthonynsimon/bild/parallel"
)

// ApplyMask combines the refined matte with the original pixels over a
// transparent background: RGB is kept, alpha becomes the matte value.
// The mask must already be at the image resolution.
func ApplyMask(img *image.NRGBA, mask *image.Gray) (*image.NRGBA, error) {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	if mask.Bounds().Dx() != w || mask.Bounds().Dy() != h {
		return nil, fmt.Errorf("mask size %dx%d does not match image %dx%d",
			mask.Bounds().Dx(), mask.Bounds().Dy(), w, h)
	}

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	parallel.Line(h, func(start, end int) {
		for y := start; y < end; y++ {
			srcRow := img.Pix[y*img.Stride:]
			maskRow := mask.Pix[y*mask.Stride:]
			outRow := out.Pix[y*out.Stride:]
			for x := 0; x < w; x++ {
				i := x * 4
				outRow[i] = srcRow[i]
				outRow[i+1] = srcRow[i+1]
				outRow[i+2] = srcRow[i+2]
				outRow[i+3] = maskRow[x]
			}
		}
	})
	return out, nil
}

// CompositeOver blends the original onto an opaque background image, weighted
// by the matte: out = lerp(bg, img, mask/255). Alpha becomes the matte value.
// img, mask and bg must share dimensions.
func CompositeOver(img *image.NRGBA, mask *image.Gray, bg *image.NRGBA) (*image.NRGBA, error) {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	if mask.Bounds().Dx() != w || mask.Bounds().Dy() != h {
		return nil, fmt.Errorf("mask size %dx%d does not match image %dx%d",
			mask.Bounds().Dx(), mask.Bounds().Dy(), w, h)
	}
	if bg.Bounds().Dx() != w || bg.Bounds().Dy() != h {
		return nil, fmt.Errorf("background size %dx%d does not match image %dx%d",
			bg.Bounds().Dx(), bg.Bounds().Dy(), w, h)
	}

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	parallel.Line(h, func(start, end int) {
		for y := start; y < end; y++ {
			srcRow := img.Pix[y*img.Stride:]
			bgRow := bg.Pix[y*bg.Stride:]
			maskRow := mask.Pix[y*mask.Stride:]
			outRow := out.Pix[y*out.Stride:]
			for x := 0; x < w; x++ {
				i := x * 4
				a := int(maskRow[x])
				outRow[i] = uint8((int(bgRow[i])*(255-a) + int(srcRow[i])*a) / 255)
				outRow[i+1] = uint8((int(bgRow[i+1])*(255-a) + int(srcRow[i+1])*a) / 255)
				outRow[i+2] = uint8((int(bgRow[i+2])*(255-a) + int(srcRow[i+2])*a) / 255)
				outRow[i+3] = maskRow[x]
			}
		}
	})
	return out, nil
}

// Despill multiplies each color channel by alpha/255, collapsing background
// color contamination in semi-transparent edge pixels toward black. Alpha is
// unchanged. Despill is NOT idempotent: applying it twice darkens every
// semi-transparent pixel again, so the pipeline calls it exactly once, after
// the final alpha is fixed.
func Despill(img *image.NRGBA) *image.NRGBA {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	parallel.Line(h, func(start, end int) {
		for y := start; y < end; y++ {
			srcRow := img.Pix[y*img.Stride:]
			outRow := out.Pix[y*out.Stride:]
			for x := 0; x < w; x++ {
				i := x * 4
				a := int(srcRow[i+3])
				outRow[i] = uint8(int(srcRow[i]) * a / 255)
				outRow[i+1] = uint8(int(srcRow[i+1]) * a / 255)
				outRow[i+2] = uint8(int(srcRow[i+2]) * a / 255)
				outRow[i+3] = srcRow[i+3]
			}
		}
	})
	return out
}
