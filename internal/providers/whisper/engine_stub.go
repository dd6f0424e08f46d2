//go:build !whispercpp

package whisper

import "errors"

// NativeAvailable reports whether the binary links whisper.cpp.
const NativeAvailable = false

// ErrNativeUnavailable is returned when the binary was built without the
// whispercpp tag.
var ErrNativeUnavailable = errors.New("whisper: built without whisper.cpp support (rebuild with -tags whispercpp)")

// LoadNativeEngine always fails in builds without whisper.cpp.
func LoadNativeEngine(string) (Engine, error) {
	return nil, ErrNativeUnavailable
}
