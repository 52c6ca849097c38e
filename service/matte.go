package service

import (
	"image"

	"github.com/anthonynsimon/bild/parallel"
	"github.com/disintegration/imaging"
)

// RefineMatte cleans a noisy segmentation matte. The stages run in a fixed
// order: contract (min filter), expand (max filter), Gaussian blur, then the
// optional dark-edge boost. The order determines the final matte shape.
// The input mask is not modified.
func RefineMatte(mask *image.Gray, contract, expand int, blurSigma float64, boostDark bool) *image.Gray {
	out := minFilter(mask, contract)
	out = maxFilter(out, expand)
	out = blurMatte(out, blurSigma)
	if boostDark {
		out = boostDarkEdges(out)
	}
	return out
}

// minFilter replaces each pixel with the minimum over a square window of side
// 2*radius+1, extending edge values at the borders. radius <= 0 copies.
// The square window is separable, so this runs as a horizontal pass followed
// by a vertical one.
func minFilter(src *image.Gray, radius int) *image.Gray {
	return windowFilter(src, radius, func(best, v uint8) bool { return v < best })
}

// maxFilter is the dilation counterpart of minFilter.
func maxFilter(src *image.Gray, radius int) *image.Gray {
	return windowFilter(src, radius, func(best, v uint8) bool { return v > best })
}

func windowFilter(src *image.Gray, radius int, better func(best, v uint8) bool) *image.Gray {
	if radius <= 0 {
		return cloneGray(src)
	}

	w := src.Bounds().Dx()
	h := src.Bounds().Dy()
	tmp := image.NewGray(image.Rect(0, 0, w, h))
	dst := image.NewGray(image.Rect(0, 0, w, h))

	// horizontal pass
	parallel.Line(h, func(start, end int) {
		for y := start; y < end; y++ {
			srcRow := src.Pix[y*src.Stride:]
			tmpRow := tmp.Pix[y*tmp.Stride:]
			for x := 0; x < w; x++ {
				best := srcRow[x]
				for dx := -radius; dx <= radius; dx++ {
					v := srcRow[clampInt(x+dx, 0, w-1)]
					if better(best, v) {
						best = v
					}
				}
				tmpRow[x] = best
			}
		}
	})

	// vertical pass
	parallel.Line(h, func(start, end int) {
		for y := start; y < end; y++ {
			dstRow := dst.Pix[y*dst.Stride:]
			for x := 0; x < w; x++ {
				best := tmp.Pix[y*tmp.Stride+x]
				for dy := -radius; dy <= radius; dy++ {
					v := tmp.Pix[clampInt(y+dy, 0, h-1)*tmp.Stride+x]
					if better(best, v) {
						best = v
					}
				}
				dstRow[x] = best
			}
		}
	})

	return dst
}

// blurMatte softens the matte boundary with a Gaussian of the given sigma.
// sigma <= 0 is a no-op.
func blurMatte(mask *image.Gray, sigma float64) *image.Gray {
	if sigma <= 0 {
		return mask
	}

	blurred := imaging.Blur(mask, sigma)

	w := mask.Bounds().Dx()
	h := mask.Bounds().Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.Pix[y*out.Stride+x] = blurred.Pix[y*blurred.Stride+x*4]
		}
	}
	return out
}

// boostDarkEdges lifts low-confidence fringe pixels: v in [1,64) becomes
// min(255, floor(v*1.4)+6). Segmentation models under-predict alpha near dark
// edges; the lift closes those thin gaps without touching mid/high-confidence
// pixels. Exact zero stays zero, so an empty matte stays empty.
func boostDarkEdges(mask *image.Gray) *image.Gray {
	out := cloneGray(mask)
	for i, v := range out.Pix {
		if v == 0 || v >= 64 {
			continue
		}
		lifted := int(v)*7/5 + 6
		if lifted > 255 {
			lifted = 255
		}
		out.Pix[i] = uint8(lifted)
	}
	return out
}

// InvertMatte flips foreground and background, for "keep the background"
// requests.
func InvertMatte(mask *image.Gray) *image.Gray {
	out := cloneGray(mask)
	for i, v := range out.Pix {
		out.Pix[i] = 255 - v
	}
	return out
}

func cloneGray(src *image.Gray) *image.Gray {
	w := src.Bounds().Dx()
	h := src.Bounds().Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	if src.Stride == dst.Stride {
		copy(dst.Pix, src.Pix)
		return dst
	}
	for y := 0; y < h; y++ {
		copy(dst.Pix[y*dst.Stride:y*dst.Stride+w], src.Pix[y*src.Stride:y*src.Stride+w])
	}
	return dst
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
