package domain

import (
	"encoding/binary"
	"fmt"
	"math"
)

// SampleEncoding is the wire representation of one sample.
type SampleEncoding string

const (
	EncodingFloat32 SampleEncoding = "float32"
	EncodingInt16   SampleEncoding = "int16"
)

// AudioFormat describes interleaved PCM audio. It is an immutable value.
type AudioFormat struct {
	SampleRate float64        `json:"sampleRate"`
	Channels   int            `json:"channels"`
	Encoding   SampleEncoding `json:"encoding"`
}

// Valid reports whether the format can describe real audio.
func (f AudioFormat) Valid() bool {
	if f.SampleRate <= 0 || math.IsNaN(f.SampleRate) || math.IsInf(f.SampleRate, 0) {
		return false
	}
	if f.Channels <= 0 {
		return false
	}
	return f.Encoding == EncodingFloat32 || f.Encoding == EncodingInt16
}

// Equal reports whether two formats describe identical sample layouts.
func (f AudioFormat) Equal(other AudioFormat) bool {
	return f.SampleRate == other.SampleRate && f.Channels == other.Channels && f.Encoding == other.Encoding
}

// BytesPerFrame returns the encoded size of one frame.
func (f AudioFormat) BytesPerFrame() int {
	switch f.Encoding {
	case EncodingInt16:
		return 2 * f.Channels
	default:
		return 4 * f.Channels
	}
}

func (f AudioFormat) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%gHz %s %s", f.SampleRate, ch, f.Encoding)
}

// AudioBuffer is an owned block of interleaved samples normalised to [-1, 1].
// Whichever stage holds the pointer owns it; stages never mutate a buffer
// after handing it off.
type AudioBuffer struct {
	Format  AudioFormat
	Frames  int
	Samples []float32
}

// NewAudioBuffer allocates storage for capacity frames with Frames set to zero.
func NewAudioBuffer(format AudioFormat, capacity int) *AudioBuffer {
	return &AudioBuffer{
		Format:  format,
		Samples: make([]float32, 0, capacity*format.Channels),
	}
}

// Capacity returns the number of frames the storage can hold.
func (b *AudioBuffer) Capacity() int {
	if b.Format.Channels <= 0 {
		return 0
	}
	return cap(b.Samples) / b.Format.Channels
}

// Duration returns the buffer length in seconds.
func (b *AudioBuffer) Duration() float64 {
	if b.Format.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames) / b.Format.SampleRate
}

// Frame returns the samples of frame i.
func (b *AudioBuffer) Frame(i int) []float32 {
	ch := b.Format.Channels
	return b.Samples[i*ch : (i+1)*ch]
}

// PCM16 encodes the buffer as little-endian signed 16-bit PCM.
func (b *AudioBuffer) PCM16() []byte {
	n := b.Frames * b.Format.Channels
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(FloatToInt16(b.Samples[i])))
	}
	return out
}

// Float32LE encodes the buffer as little-endian IEEE float samples.
func (b *AudioBuffer) Float32LE() []byte {
	n := b.Frames * b.Format.Channels
	out := make([]byte, n*4)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(b.Samples[i]))
	}
	return out
}

// Bytes encodes the buffer according to its format encoding.
func (b *AudioBuffer) Bytes() []byte {
	if b.Format.Encoding == EncodingInt16 {
		return b.PCM16()
	}
	return b.Float32LE()
}

// AudioBufferFromPCM16 decodes little-endian signed 16-bit PCM. A trailing
// partial frame is ignored.
func AudioBufferFromPCM16(format AudioFormat, pcm []byte) *AudioBuffer {
	ch := format.Channels
	if ch <= 0 {
		ch = 1
	}
	frames := len(pcm) / (2 * ch)
	samples := make([]float32, frames*ch)
	for i := range samples {
		samples[i] = Int16ToFloat(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return &AudioBuffer{Format: format, Frames: frames, Samples: samples}
}

// FloatToInt16 quantises a normalised sample with clamping.
func FloatToInt16(s float32) int16 {
	v := math.Round(float64(s) * 32768)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// Int16ToFloat normalises a 16-bit sample.
func Int16ToFloat(s int16) float32 {
	return float32(s) / 32768
}
