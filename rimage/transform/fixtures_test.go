package transform

import (
	"image"
	"image/color"
)

// testNode is a small rig: identical 64x48 cameras, 12cm baseline, no distortion or rotation.
func testNode() map[string]interface{} {
	return map[string]interface{}{
		"fx1": 50.0, "fy1": 50.0, "cx1": 31.5, "cy1": 23.5,
		"d01": 0.0, "d11": 0.0, "d21": 0.0, "d31": 0.0,
		"fx2": 50.0, "fy2": 50.0, "cx2": 31.5, "cy2": 23.5,
		"d02": 0.0, "d12": 0.0, "d22": 0.0, "d32": 0.0,
		"tx": -0.12, "ty": 0.0, "tz": 0.0,
		"rx": 0.0, "ry": 0.0, "rz": 0.0,
	}
}

// distortedNode is a rig with lens distortion and a slightly rotated right camera.
func distortedNode() map[string]interface{} {
	node := testNode()
	node["d01"] = -0.21
	node["d11"] = 0.04
	node["d21"] = 0.001
	node["d31"] = -0.0005
	node["d02"] = -0.18
	node["d12"] = 0.03
	node["fx2"] = 52.0
	node["fy2"] = 51.5
	node["cx2"] = 32.2
	node["ty"] = 0.003
	node["tz"] = 0.001
	node["rx"] = 0.01
	node["ry"] = -0.02
	node["rz"] = 0.005
	return node
}

var testSize = image.Pt(64, 48)

func gradientImage(size image.Point) *image.Gray {
	img := image.NewGray(image.Rectangle{Max: size})
	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((3*x + 2*y) % 256)})
		}
	}
	return img
}
