package service

import (
	"image"
	stddraw "image/draw"

	"github.com/nfnt/resize"
	xdraw "golang.org/x/image/draw"
)

// ToNRGBA normalizes any decoded image to a zero-origin NRGBA buffer.
func ToNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Bounds().Min == image.Pt(0, 0) {
		return n
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	stddraw.Draw(dst, dst.Bounds(), img, b.Min, stddraw.Src)
	return dst
}

// ResizeWithinMax downscales proportionally so the longest side does not
// exceed maxSide, using Lanczos3. Images already within the bound are
// returned as-is; this never upscales.
func ResizeWithinMax(img *image.NRGBA, maxSide int) *image.NRGBA {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	longest := max(w, h)
	if longest <= maxSide {
		return img
	}

	scale := float64(maxSide) / float64(longest)
	newW := max(1, int(float64(w)*scale))
	newH := max(1, int(float64(h)*scale))

	resized := resize.Resize(uint(newW), uint(newH), img, resize.Lanczos3)
	return ToNRGBA(resized)
}

// UpscaleMask resizes a matte produced at inference resolution back to the
// original resolution. Bilinear is used deliberately: it introduces no
// ringing, so resize error stays a monotone softening of the matte edge
// instead of overshoot that would become halo after compositing.
func UpscaleMask(mask *image.Gray, w, h int) *image.Gray {
	if mask.Bounds().Dx() == w && mask.Bounds().Dy() == h {
		return mask
	}
	dst := image.NewGray(image.Rect(0, 0, w, h))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), mask, mask.Bounds(), xdraw.Src, nil)
	return dst
}
