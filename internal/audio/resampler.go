package audio

import (
	"errors"
	"fmt"
	"math"

	"lecturescribe/internal/domain"
)

// InputStatus is what an InputBlock reports for one request.
type InputStatus int

const (
	// InputHaveData means the returned buffer holds input.
	InputHaveData InputStatus = iota
	// InputNoDataNow means no input is available for this call; the stream
	// continues.
	InputNoDataNow
	// InputEndOfStream means no input will ever follow.
	InputEndOfStream
)

func (s InputStatus) String() string {
	switch s {
	case InputHaveData:
		return "have_data"
	case InputNoDataNow:
		return "no_data_now"
	case InputEndOfStream:
		return "end_of_stream"
	default:
		return fmt.Sprintf("input_status(%d)", int(s))
	}
}

// InputBlock supplies input frames on demand. The resampler may call it
// several times within one Convert.
type InputBlock func(requestedFrames int) (*domain.AudioBuffer, InputStatus)

// OutputStatus reports why Convert returned.
type OutputStatus int

const (
	OutputHaveData OutputStatus = iota
	OutputInputRanDry
	OutputEndOfStream
)

var (
	errInputFormatMismatch = errors.New("input buffer format does not match converter input format")
	errShortInput          = errors.New("input buffer holds fewer samples than its frame count")
)

// Resampler converts interleaved audio between rates, channel layouts and
// encodings using linear interpolation.
//
// No priming is applied: output frame 0 aligns with input frame 0 and the
// interpolator has no history for it, so the first samples are slightly less
// accurate. In exchange output positions are derived from absolute frame
// counters, so no timestamp drift accumulates relative to the source across
// Convert calls.
type Resampler struct {
	in  domain.AudioFormat
	out domain.AudioFormat

	outFrames int64
	inFrames  int64

	pending *domain.AudioBuffer
	prev    []float32
	hasPrev bool
}

// NewResampler validates both formats and the channel mapping.
func NewResampler(in, out domain.AudioFormat) (*Resampler, error) {
	if !in.Valid() {
		return nil, fmt.Errorf("invalid input format %s", in)
	}
	if !out.Valid() {
		return nil, fmt.Errorf("invalid output format %s", out)
	}
	if in.Channels != out.Channels && in.Channels != 1 && out.Channels != 1 {
		return nil, fmt.Errorf("unsupported channel mapping %d -> %d", in.Channels, out.Channels)
	}
	return &Resampler{in: in, out: out}, nil
}

// InputFormat returns the format the resampler was built for.
func (r *Resampler) InputFormat() domain.AudioFormat { return r.in }

// OutputFormat returns the produced format.
func (r *Resampler) OutputFormat() domain.AudioFormat { return r.out }

// Convert fills dst up to its capacity, pulling input from supply as needed.
func (r *Resampler) Convert(dst *domain.AudioBuffer, supply InputBlock) (OutputStatus, error) {
	if !dst.Format.Equal(r.out) {
		return 0, fmt.Errorf("output buffer format %s does not match converter output %s", dst.Format, r.out)
	}
	capacity := dst.Capacity()

	for {
		if r.pending == nil {
			buf, status := supply(capacity - dst.Frames)
			switch status {
			case InputNoDataNow:
				return OutputInputRanDry, nil
			case InputEndOfStream:
				return OutputEndOfStream, nil
			case InputHaveData:
			default:
				return 0, fmt.Errorf("unknown input status %d", status)
			}
			if buf == nil || buf.Frames == 0 {
				continue
			}
			if !buf.Format.Equal(r.in) {
				return 0, fmt.Errorf("%w: got %s, want %s", errInputFormatMismatch, buf.Format, r.in)
			}
			if len(buf.Samples) < buf.Frames*buf.Format.Channels {
				return 0, fmt.Errorf("%w: %d samples for %d frames", errShortInput, len(buf.Samples), buf.Frames)
			}
			r.pending = buf
		}

		if !r.render(dst, capacity) {
			return OutputHaveData, nil
		}
		r.consumePending()
		if dst.Frames >= capacity {
			return OutputHaveData, nil
		}
	}
}

// position returns where the next output frame falls, in input frames
// relative to the first frame of the pending buffer.
func (r *Resampler) position() float64 {
	return float64(r.outFrames)*r.in.SampleRate/r.out.SampleRate - float64(r.inFrames)
}

// render emits output frames from the pending buffer. It returns true once
// the pending buffer cannot contribute further frames.
func (r *Resampler) render(dst *domain.AudioBuffer, capacity int) bool {
	src := r.pending
	n := src.Frames
	for dst.Frames < capacity {
		p := r.position()
		idx := int(math.Floor(p))
		frac := float32(p - float64(idx))
		if idx >= n {
			return true
		}

		var a, b []float32
		switch {
		case idx < 0:
			if r.hasPrev {
				a = r.prev
			} else {
				a = src.Frame(0)
			}
			b = src.Frame(0)
		case frac == 0:
			a = src.Frame(idx)
			b = a
		case idx+1 < n:
			a = src.Frame(idx)
			b = src.Frame(idx + 1)
		default:
			// Needs the first frame of the next buffer.
			return true
		}
		r.emit(dst, a, b, frac)
	}
	return false
}

func (r *Resampler) emit(dst *domain.AudioBuffer, a, b []float32, frac float32) {
	inCh := r.in.Channels
	outCh := r.out.Channels
	for c := 0; c < outCh; c++ {
		var v float32
		switch {
		case inCh == outCh:
			v = a[c] + (b[c]-a[c])*frac
		case inCh == 1:
			v = a[0] + (b[0]-a[0])*frac
		default:
			var sa, sb float32
			for k := 0; k < inCh; k++ {
				sa += a[k]
				sb += b[k]
			}
			sa /= float32(inCh)
			sb /= float32(inCh)
			v = sa + (sb-sa)*frac
		}
		if r.out.Encoding == domain.EncodingInt16 {
			v = domain.Int16ToFloat(domain.FloatToInt16(v))
		}
		dst.Samples = append(dst.Samples, v)
	}
	dst.Frames++
	r.outFrames++
}

func (r *Resampler) consumePending() {
	src := r.pending
	last := src.Frame(src.Frames - 1)
	r.prev = append(r.prev[:0], last...)
	r.hasPrev = true
	r.inFrames += int64(src.Frames)
	r.pending = nil
}

// OutputCapacity returns ceil(frames * outRate / inRate).
func OutputCapacity(frames int, inRate, outRate float64) int {
	if frames <= 0 || inRate <= 0 || outRate <= 0 {
		return 0
	}
	return int(math.Ceil(float64(frames) * outRate / inRate))
}
