package service

import (
	"image"
	"image/color"
	"testing"
)

func uniformCanvas(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestApplyMask_ReplacesAlphaKeepsRGB(t *testing.T) {
	img := uniformCanvas(8, 8, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
	mask := uniformMask(8, 8, 77)

	got, err := ApplyMask(img, mask)
	if err != nil {
		t.Fatalf("ApplyMask failed: %v", err)
	}

	px := got.NRGBAAt(3, 3)
	want := color.NRGBA{R: 200, G: 100, B: 50, A: 77}
	if px != want {
		t.Errorf("pixel = %+v, want %+v", px, want)
	}
}

func TestApplyMask_DimensionMismatch(t *testing.T) {
	img := uniformCanvas(8, 8, color.NRGBA{A: 255})
	mask := uniformMask(4, 8, 255)

	if _, err := ApplyMask(img, mask); err == nil {
		t.Error("ApplyMask should fail on mismatched dimensions")
	}
}

func TestCompositeOver_Lerp(t *testing.T) {
	img := uniformCanvas(4, 4, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	bg := uniformCanvas(4, 4, color.NRGBA{R: 0, G: 0, B: 0, A: 255})

	tests := []struct {
		mask uint8
		want uint8
	}{
		{0, 0},
		{255, 255},
		{128, 128}, // (0*127 + 255*128)/255
	}

	for _, tt := range tests {
		out, err := CompositeOver(img, uniformMask(4, 4, tt.mask), bg)
		if err != nil {
			t.Fatalf("CompositeOver failed: %v", err)
		}
		px := out.NRGBAAt(1, 1)
		if px.R != tt.want || px.A != tt.mask {
			t.Errorf("mask %d: pixel = %+v, want R=%d A=%d", tt.mask, px, tt.want, tt.mask)
		}
	}
}

func TestDespill_PremultipliesRGB(t *testing.T) {
	img := uniformCanvas(4, 4, color.NRGBA{R: 200, G: 100, B: 40, A: 128})

	got := Despill(img)
	px := got.NRGBAAt(0, 0)

	want := color.NRGBA{R: 100, G: 50, B: 20, A: 128}
	if px != want {
		t.Errorf("despilled pixel = %+v, want %+v", px, want)
	}
}

func TestDespill_NotIdempotent(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 3, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 200, G: 200, B: 200, A: 0})   // fully transparent
	img.SetNRGBA(1, 0, color.NRGBA{R: 200, G: 200, B: 200, A: 128}) // semi-transparent edge
	img.SetNRGBA(2, 0, color.NRGBA{R: 200, G: 200, B: 200, A: 255}) // fully opaque

	once := Despill(img)
	twice := Despill(once)

	// saturated alphas are fixed points
	if once.NRGBAAt(0, 0) != twice.NRGBAAt(0, 0) {
		t.Error("alpha=0 pixel changed on second despill")
	}
	if once.NRGBAAt(2, 0) != twice.NRGBAAt(2, 0) {
		t.Error("alpha=255 pixel changed on second despill")
	}

	// the semi-transparent pixel must darken again
	first := once.NRGBAAt(1, 0)
	second := twice.NRGBAAt(1, 0)
	if second.R >= first.R || second == first {
		t.Errorf("second despill did not darken the semi-transparent pixel: %+v vs %+v", first, second)
	}
}
