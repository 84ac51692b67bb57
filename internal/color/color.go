// Package color converts linear float colors to 8-bit texel values.
//
// Clear colors are linear. Unorm targets store them scaled to [0, 255];
// sRGB targets store them gamma-encoded. Alpha is always linear.
package color

import "math"

// Unorm8 clamps v to [0, 1] and scales it to a byte with rounding.
func Unorm8(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}

// LinearToSRGB applies the sRGB transfer function to a component in [0, 1].
func LinearToSRGB(l float32) float32 {
	if l <= 0.0031308 {
		return l * 12.92
	}
	return 1.055*float32(math.Pow(float64(l), 1.0/2.4)) - 0.055
}

// SRGBToLinear inverts LinearToSRGB.
func SRGBToLinear(s float32) float32 {
	if s <= 0.04045 {
		return s / 12.92
	}
	return float32(math.Pow(float64((s+0.055)/1.055), 2.4))
}
