//go:build whispercpp

// Linking needs libwhisper.a and whisper.h on LIBRARY_PATH and
// C_INCLUDE_PATH.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// NativeAvailable reports whether the binary links whisper.cpp.
const NativeAvailable = true

type nativeEngine struct {
	model whisperlib.Model
}

// LoadNativeEngine loads a ggml model through the whisper.cpp bindings.
func LoadNativeEngine(modelPath string) (Engine, error) {
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	return &nativeEngine{model: model}, nil
}

func (e *nativeEngine) Transcribe(ctx context.Context, samples []float32, language string) ([]Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// A context per call: contexts are not thread-safe, the model is.
	wctx, err := e.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}
	if language != "" {
		if err := wctx.SetLanguage(language); err != nil {
			slog.Warn("whisper: failed to set language, using default", "language", language, "error", err)
		}
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	var out []Segment
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		out = append(out, Segment{Start: seg.Start, End: seg.End, Text: text})
	}
	return out, nil
}

func (e *nativeEngine) Close() error {
	return e.model.Close()
}
