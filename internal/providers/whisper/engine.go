// Package whisper runs recognition locally with whisper.cpp ggml models that
// are downloaded on demand per locale.
package whisper

import (
	"context"
	"time"
)

// Segment is one timed text span relative to the start of the transcribed
// samples.
type Segment struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// Engine transcribes 16 kHz mono float samples. Implementations need not be
// safe for concurrent use; a session serialises its calls.
type Engine interface {
	Transcribe(ctx context.Context, samples []float32, language string) ([]Segment, error)
	Close() error
}

// EngineLoader opens an engine for a model file.
type EngineLoader func(modelPath string) (Engine, error)
