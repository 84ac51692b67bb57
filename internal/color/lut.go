package color

// linearToSRGBLUT maps a 12-bit linear value to an sRGB byte.
var linearToSRGBLUT [4096]uint8

// sRGBToLinearLUT maps an sRGB byte to a linear value.
var sRGBToLinearLUT [256]float32

func init() {
	for i := range linearToSRGBLUT {
		linearToSRGBLUT[i] = Unorm8(LinearToSRGB(float32(i) / 4095))
	}
	for i := range sRGBToLinearLUT {
		sRGBToLinearLUT[i] = SRGBToLinear(float32(i) / 255)
	}
}

// EncodeSRGB8 converts a linear component to an sRGB byte. Input is
// clamped to [0, 1].
//
//	s := EncodeSRGB8(0.5) // 188, not 128
func EncodeSRGB8(l float32) uint8 {
	l = min(max(l, 0), 1)
	return linearToSRGBLUT[int(l*4095+0.5)]
}

// DecodeSRGB8 converts an sRGB byte to a linear component.
func DecodeSRGB8(s uint8) float32 {
	return sRGBToLinearLUT[s]
}
