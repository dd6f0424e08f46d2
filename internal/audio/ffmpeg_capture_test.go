package audio

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lecturescribe/internal/domain"
	"lecturescribe/internal/ports"
)

func TestFFMPEGDeviceOpenReadAndStop(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "capture.sh", "#!/usr/bin/env bash\nprintf 'hello'\nsleep 2\n")
	device := NewFFMPEGDevice(script)

	session, err := device.Open(context.Background(), ports.AudioConfig{Channels: 2})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	want := domain.AudioFormat{SampleRate: 48000, Channels: 2, Encoding: domain.EncodingInt16}
	if !session.Format().Equal(want) {
		t.Fatalf("expected %s, got %s", want, session.Format())
	}

	buf := make([]byte, 8)
	n, readErr := session.Read(buf)
	if n <= 0 {
		t.Fatalf("expected audio bytes, got n=%d err=%v", n, readErr)
	}
	if !strings.Contains(string(buf[:n]), "hello") {
		t.Fatalf("unexpected bytes: %q", string(buf[:n]))
	}

	if err := session.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := session.Stop(); err != nil {
		t.Fatalf("second stop should be a no-op, got %v", err)
	}
}

func TestFFMPEGDeviceOpenEarlyExit(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "fail.sh", "#!/usr/bin/env bash\necho 'no such device' 1>&2\nexit 1\n")
	device := NewFFMPEGDevice(script)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := device.Open(ctx, ports.AudioConfig{})
	if !errors.Is(err, domain.ErrDeviceInitFailure) {
		t.Fatalf("expected device init failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "no such device") {
		t.Fatalf("expected stderr detail in error: %v", err)
	}
}

func TestCaptureArgsUseConfiguredDevice(t *testing.T) {
	t.Parallel()

	args := strings.Join(captureArgs(withCaptureDefaults(ports.AudioConfig{InputFormat: "alsa", InputDevice: "hw:1"})), " ")
	for _, want := range []string{"-f alsa", "-i hw:1", "-ar 48000", "-ac 1", "-f s16le"} {
		if !strings.Contains(args, want) {
			t.Fatalf("expected %q in %q", want, args)
		}
	}
}

func TestIgnoreExitStatus(t *testing.T) {
	t.Parallel()

	err := exec.Command("bash", "-c", "exit 1").Run()
	if err == nil {
		t.Fatalf("expected command to fail")
	}
	if got := ignoreExitStatus(err); got != nil {
		t.Fatalf("expected nil for exit error, got %v", got)
	}
	other := errors.New("pipe broke")
	if got := ignoreExitStatus(other); got != other {
		t.Fatalf("expected other errors to pass through, got %v", got)
	}
}

func writeScript(t *testing.T, name string, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o700); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}
