package native

import "encoding/binary"

// toMonoFloat32 converts interleaved 16-bit signed little-endian PCM to mono
// float32 samples in [-1.0, 1.0], averaging channels per frame. channels <= 1
// is treated as mono. A trailing partial frame is ignored.
func toMonoFloat32(pcm []byte, channels int) []float32 {
	if channels < 1 {
		channels = 1
	}
	frames := len(pcm) / (2 * channels)
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			off := (i*channels + ch) * 2
			sum += float32(int16(binary.LittleEndian.Uint16(pcm[off:off+2]))) / 32768.0
		}
		out[i] = sum / float32(channels)
	}
	return out
}
