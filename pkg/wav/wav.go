// Package wav wraps raw PCM byte runs in a RIFF/WAV container.
//
// The pipeline works exclusively with canonical broadcast audio: 16 kHz,
// mono, 16-bit signed little-endian PCM. [Encode] produces that canonical
// framing; [EncodeFormat] is available for callers that need a different
// rate or channel count (e.g. tests exercising the header fields).
package wav

import "encoding/binary"

// Canonical pipeline audio format.
const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16

	// HeaderSize is the fixed size of the RIFF/fmt/data preamble that
	// precedes the PCM payload.
	HeaderSize = 44
)

// BytesPerSecond is the PCM byte rate of the canonical format.
const BytesPerSecond = SampleRate * Channels * BitsPerSample / 8

// Encode wraps pcm in a canonical mono 16 kHz 16-bit little-endian WAV
// header. The input is copied; the returned slice has length
// len(pcm)+HeaderSize.
func Encode(pcm []byte) []byte {
	return EncodeFormat(pcm, SampleRate, Channels)
}

// EncodeFormat wraps 16-bit little-endian PCM in a RIFF/WAV container with
// the given sample rate and channel count.
func EncodeFormat(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * BitsPerSample / 8
	blockAlign := channels * BitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, HeaderSize+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))   // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))   // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], BitsPerSample)      // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}
