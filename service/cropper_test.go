package service

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// canvasWithSquare builds a w x h transparent canvas with an opaque colored
// square covering [x0,x1) x [y0,y1).
func canvasWithSquare(w, h, x0, y0, x1, y1 int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestContentBounds(t *testing.T) {
	img := canvasWithSquare(50, 50, 10, 15, 30, 40, color.NRGBA{R: 255, A: 255})

	box, ok := ContentBounds(img)
	require.True(t, ok)
	assert.Equal(t, image.Rect(10, 15, 30, 40), box)
}

func TestContentBounds_EmptyAlpha(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 20, 20))
	_, ok := ContentBounds(img)
	assert.False(t, ok)
}

func TestCropToContent_ExactBox(t *testing.T) {
	img := canvasWithSquare(50, 50, 10, 10, 30, 35, color.NRGBA{G: 255, A: 255})

	got := CropToContent(img, 0)
	assert.Equal(t, 20, got.Bounds().Dx())
	assert.Equal(t, 25, got.Bounds().Dy())

	// no transparent border left
	_, ok := ContentBounds(got)
	require.True(t, ok)
	assert.Equal(t, uint8(255), got.NRGBAAt(0, 0).A)
}

func TestCropToContent_MarginInsideBounds(t *testing.T) {
	img := canvasWithSquare(300, 300, 100, 100, 200, 200, color.NRGBA{R: 255, A: 255})

	got := CropToContent(img, 10)
	require.Equal(t, 120, got.Bounds().Dx())
	require.Equal(t, 120, got.Bounds().Dy())

	box, ok := ContentBounds(got)
	require.True(t, ok)
	assert.Equal(t, image.Rect(10, 10, 110, 110), box)
}

func TestCropToContent_PadsWhereClampCutOff(t *testing.T) {
	// content touches the top-left corner; the margin there must come back
	// as transparent padding
	img := canvasWithSquare(100, 100, 0, 0, 40, 40, color.NRGBA{B: 255, A: 255})

	got := CropToContent(img, 8)
	require.Equal(t, 40+2*8, got.Bounds().Dx())
	require.Equal(t, 40+2*8, got.Bounds().Dy())

	box, ok := ContentBounds(got)
	require.True(t, ok)
	assert.Equal(t, image.Rect(8, 8, 48, 48), box)
	assert.Equal(t, uint8(0), got.NRGBAAt(0, 0).A)
}

func TestCropToContent_EmptyAlphaUnchanged(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 64, 32))

	for _, margin := range []int{0, 10, 200} {
		got := CropToContent(img, margin)
		if got != img {
			t.Errorf("margin %d: fully transparent image should be returned unchanged", margin)
		}
	}
}

func TestCropToContent_SizeInvariant(t *testing.T) {
	tests := []struct {
		name   string
		w, h   int
		x0, y0 int
		x1, y1 int
		margin int
	}{
		{"interior", 80, 60, 20, 20, 40, 40, 5},
		{"touching right edge", 80, 60, 60, 10, 80, 50, 12},
		{"full frame", 40, 40, 0, 0, 40, 40, 30},
		{"single pixel", 9, 9, 4, 4, 5, 5, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := canvasWithSquare(tt.w, tt.h, tt.x0, tt.y0, tt.x1, tt.y1, color.NRGBA{R: 1, A: 255})
			got := CropToContent(img, tt.margin)

			assert.LessOrEqual(t, got.Bounds().Dx(), tt.w+2*tt.margin)
			assert.LessOrEqual(t, got.Bounds().Dy(), tt.h+2*tt.margin)

			box, ok := ContentBounds(got)
			require.True(t, ok)
			assert.LessOrEqual(t, box.Min.X, tt.margin)
			assert.LessOrEqual(t, box.Min.Y, tt.margin)
			assert.GreaterOrEqual(t, box.Max.X, got.Bounds().Dx()-tt.margin)
			assert.GreaterOrEqual(t, box.Max.Y, got.Bounds().Dy()-tt.margin)
		})
	}
}
