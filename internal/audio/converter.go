package audio

import (
	"fmt"

	"lecturescribe/internal/domain"
)

// DefaultMaxConvertFrames bounds a single conversion's output allocation.
const DefaultMaxConvertFrames = 1 << 22

// supplyState tracks whether the single input buffer of one Convert call has
// been handed to the engine.
type supplyState int

const (
	supplyNotYetServed supplyState = iota
	supplyServed
)

// singleBufferSupply yields its buffer exactly once, then reports
// InputNoDataNow. It never reports InputEndOfStream, which would terminate
// the engine's stream after the first buffer.
type singleBufferSupply struct {
	buf   *domain.AudioBuffer
	state supplyState
}

func newSingleBufferSupply(buf *domain.AudioBuffer) *singleBufferSupply {
	return &singleBufferSupply{buf: buf}
}

func (s *singleBufferSupply) next(int) (*domain.AudioBuffer, InputStatus) {
	if s.state == supplyNotYetServed {
		s.state = supplyServed
		return s.buf, InputHaveData
	}
	return nil, InputNoDataNow
}

// FormatConverter converts successive buffers of one stream into a target
// format. The underlying resampler is created lazily and rebuilt only when
// the requested output format changes, so interpolation state carries across
// calls. A FormatConverter belongs to one stream and is not safe for
// concurrent use.
type FormatConverter struct {
	resampler *Resampler
	maxFrames int

	// supplyHook wraps the per-call input block. Tests only.
	supplyHook func(InputBlock) InputBlock
}

// NewFormatConverter returns a converter whose per-call output allocation is
// capped at maxFrames. A non-positive value selects DefaultMaxConvertFrames.
func NewFormatConverter(maxFrames int) *FormatConverter {
	if maxFrames <= 0 {
		maxFrames = DefaultMaxConvertFrames
	}
	return &FormatConverter{maxFrames: maxFrames}
}

// Convert returns buf in the target format. When buf already matches target
// the same buffer is returned without copying.
func (c *FormatConverter) Convert(buf *domain.AudioBuffer, target domain.AudioFormat) (*domain.AudioBuffer, error) {
	if buf == nil {
		return nil, &domain.ConversionError{Detail: "nil input buffer"}
	}
	if buf.Format.Equal(target) {
		return buf, nil
	}

	if c.resampler == nil || !c.resampler.OutputFormat().Equal(target) {
		r, err := NewResampler(buf.Format, target)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrConverterCreationFailure, err)
		}
		c.resampler = r
	}

	capacity := OutputCapacity(buf.Frames, buf.Format.SampleRate, target.SampleRate)
	if capacity <= 0 || capacity > c.maxFrames {
		return nil, fmt.Errorf("%w: %d frames", domain.ErrConverterBufferAllocFailure, capacity)
	}
	out := domain.NewAudioBuffer(target, capacity)

	var supply InputBlock = newSingleBufferSupply(buf).next
	if c.supplyHook != nil {
		supply = c.supplyHook(supply)
	}
	if _, err := c.resampler.Convert(out, supply); err != nil {
		return nil, &domain.ConversionError{
			Detail: fmt.Sprintf("%s -> %s", buf.Format, target),
			Err:    err,
		}
	}
	return out, nil
}
