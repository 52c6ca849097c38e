package service

import (
	"image"
	"image/draw"

	"github.com/disintegration/imaging"
)

// ContentBounds returns the minimal rectangle enclosing all pixels with
// alpha > 0, in zero-based coordinates. ok is false when the image is fully
// transparent.
func ContentBounds(img *image.NRGBA) (box image.Rectangle, ok bool) {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()

	minX, minY := w, h
	maxX, maxY := -1, -1
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			if row[x*4+3] == 0 {
				continue
			}
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}

	if maxX < 0 {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), true
}

// CropToContent crops the image to its non-transparent content plus margin
// pixels of breathing room on every side. Where the expanded box had to be
// clamped at the image border, the lost margin is padded back with fully
// transparent pixels, so the output is always the content box inflated by
// margin on all four sides. A fully transparent image is returned unchanged.
func CropToContent(img *image.NRGBA, margin int) *image.NRGBA {
	if margin < 0 {
		margin = 0
	}

	box, ok := ContentBounds(img)
	if !ok {
		return img
	}

	target := box.Inset(-margin)
	clamped := target.Intersect(image.Rect(0, 0, img.Bounds().Dx(), img.Bounds().Dy()))

	cropped := imaging.Crop(img, clamped)
	if clamped == target {
		return cropped
	}

	// pad the sides the clamp cut off
	out := image.NewNRGBA(image.Rect(0, 0, target.Dx(), target.Dy()))
	offset := clamped.Min.Sub(target.Min)
	dst := cropped.Bounds().Add(offset)
	draw.Draw(out, dst, cropped, cropped.Bounds().Min, draw.Src)
	return out
}
