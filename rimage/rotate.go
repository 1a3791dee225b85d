package rimage

import (
	"image"
	"math"
)

// RotationMaps returns remap coordinates that rotate a width x height image by angleDeg degrees
// counterclockwise about its center, keeping the original size.
func RotationMaps(width, height int, angleDeg float64) (*Buffer[float32], *Buffer[float32]) {
	mapX := NewBuffer[float32](width, height)
	mapY := NewBuffer[float32](width, height)
	rad := angleDeg * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	cx, cy := float64(width)/2, float64(height)/2
	for y := 0; y < height; y++ {
		dy := float64(y) - cy
		rowX, rowY := mapX.Row(y), mapY.Row(y)
		for x := range rowX {
			dx := float64(x) - cx
			rowX[x] = float32(cx + cos*dx - sin*dy)
			rowY[x] = float32(cy + sin*dx + cos*dy)
		}
	}
	return mapX, mapY
}

// Rotate rotates img by angleDeg degrees counterclockwise about its center. Corners that rotate
// in from outside the image are black.
func Rotate(img image.Image, angleDeg float64) (image.Image, error) {
	b := img.Bounds()
	mapX, mapY := RotationMaps(b.Dx(), b.Dy(), angleDeg)
	return Remap(img, mapX, mapY)
}
