package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutConfigFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("LECTURESCRIBE_CONFIG", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Recognizer.Provider != ProviderDeepgram || cfg.Recognizer.Locale != "en-US" {
		t.Fatalf("unexpected recognizer defaults: %+v", cfg.Recognizer)
	}
	if cfg.Session.ExportPath != "transcript.txt" || cfg.Session.FileChunkSeconds != 30 {
		t.Fatalf("unexpected session defaults: %+v", cfg.Session)
	}
	if cfg.Playback.PositionInterval != 50*time.Millisecond {
		t.Fatalf("unexpected position interval: %s", cfg.Playback.PositionInterval)
	}
}

func TestLoadReadsConfigFileFromHome(t *testing.T) {
	home := t.TempDir()
	path := filepath.Join(home, ".config", "lecturescribe", "config.yaml")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	yaml := `
recognizer:
  provider: whisper
  locale: de-DE
whisper:
  model_size: small
  max_utterance: 20s
session:
  finalize_timeout: 5s
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	t.Setenv("HOME", home)
	t.Setenv("LECTURESCRIBE_CONFIG", "")
	t.Setenv("LECTURESCRIBE_PROVIDER", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Recognizer.Provider != ProviderWhisper || cfg.Recognizer.Locale != "de-DE" {
		t.Fatalf("unexpected recognizer config: %+v", cfg.Recognizer)
	}
	if cfg.Whisper.ModelSize != "small" || cfg.Whisper.MaxUtterance != 20*time.Second {
		t.Fatalf("unexpected whisper config: %+v", cfg.Whisper)
	}
	if cfg.Whisper.VolatileInterval != 3*time.Second {
		t.Fatalf("expected untouched default volatile interval, got %s", cfg.Whisper.VolatileInterval)
	}
	if cfg.Session.FinalizeTimeout != 5*time.Second {
		t.Fatalf("unexpected finalize timeout: %s", cfg.Session.FinalizeTimeout)
	}
}

func TestLoadExplicitConfigMustExist(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("LECTURESCRIBE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := Load(); err == nil {
		t.Fatalf("expected missing explicit config to fail")
	}
}

func TestLoadRespectsEnvironmentOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("audio:\n  input_device: file-mic\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	t.Setenv("HOME", t.TempDir())
	t.Setenv("LECTURESCRIBE_CONFIG", path)
	t.Setenv("DEEPGRAM_API_KEY", "test-key")
	t.Setenv("DEEPGRAM_API_BASE", "https://example.com/v1")
	t.Setenv("DEEPGRAM_MODEL", "nova-3")
	t.Setenv("DEEPGRAM_SMART_FORMAT", "false")
	t.Setenv("LECTURESCRIBE_LOCALE", "en_GB")
	t.Setenv("LECTURESCRIBE_FFMPEG_COMMAND", "my-ffmpeg")
	t.Setenv("LECTURESCRIBE_AUDIO_INPUT_FORMAT", "alsa")
	t.Setenv("LECTURESCRIBE_AUDIO_INPUT_DEVICE", "mic0")
	t.Setenv("LECTURESCRIBE_SAMPLE_RATE", "44100")
	t.Setenv("LECTURESCRIBE_CHANNELS", "2")
	t.Setenv("LECTURESCRIBE_EXPORT_PATH", "/tmp/out.txt")
	t.Setenv("LECTURESCRIBE_COPY_TO_CLIPBOARD", "off")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Deepgram.APIKey != "test-key" || cfg.Deepgram.APIBaseURL != "https://example.com/v1" {
		t.Fatalf("unexpected deepgram config: %+v", cfg.Deepgram)
	}
	if cfg.Deepgram.Model != "nova-3" || cfg.Deepgram.SmartFormat {
		t.Fatalf("unexpected deepgram model/smart format: %+v", cfg.Deepgram)
	}
	if cfg.Recognizer.Locale != "en_GB" {
		t.Fatalf("unexpected locale %q", cfg.Recognizer.Locale)
	}
	if cfg.Audio.FFmpegCommand != "my-ffmpeg" || cfg.Audio.InputFormat != "alsa" || cfg.Audio.InputDevice != "mic0" {
		t.Fatalf("unexpected audio config: %+v", cfg.Audio)
	}
	if cfg.Audio.SampleRate != 44100 || cfg.Audio.Channels != 2 {
		t.Fatalf("unexpected sample/channels: %+v", cfg.Audio)
	}
	if cfg.Session.ExportPath != "/tmp/out.txt" || cfg.Session.CopyToClipboard {
		t.Fatalf("unexpected session config: %+v", cfg.Session)
	}
}

func TestLoadInvalidNumericValuesFallback(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("LECTURESCRIBE_CONFIG", "")
	t.Setenv("LECTURESCRIBE_SAMPLE_RATE", "bad")
	t.Setenv("LECTURESCRIBE_CHANNELS", "-1")
	t.Setenv("LECTURESCRIBE_FRAMES_PER_BUFFER", "5")
	t.Setenv("DEEPGRAM_SMART_FORMAT", "not-bool")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Audio.SampleRate != 48000 {
		t.Fatalf("expected default sample rate, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Audio.Channels != 1 {
		t.Fatalf("expected default channels, got %d", cfg.Audio.Channels)
	}
	if cfg.Audio.FramesPerBuffer != 4096 {
		t.Fatalf("expected frames per buffer fallback, got %d", cfg.Audio.FramesPerBuffer)
	}
	if !cfg.Deepgram.SmartFormat {
		t.Fatalf("expected default smart format true")
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := LoadFromReader(strings.NewReader("recognizer:\n  provder: whisper\n"))
	if err == nil || !strings.Contains(err.Error(), "provder") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestLoadFromReaderEmptyUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Audio.QueueDepth != 64 {
		t.Fatalf("unexpected queue depth %d", cfg.Audio.QueueDepth)
	}
}

func TestValidateJoinsAllErrors(t *testing.T) {
	t.Parallel()

	cfg := Defaults()
	cfg.Recognizer.Provider = "sphinx"
	cfg.Recognizer.Locale = "not a locale!"
	cfg.Log.Level = "loud"
	cfg.Session.ExportPath = " "

	err := Validate(cfg)
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	for _, want := range []string{"recognizer.provider", "recognizer.locale", "log.level", "session.export_path"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestValidateWhisperModelSize(t *testing.T) {
	t.Parallel()

	cfg := Defaults()
	cfg.Recognizer.Provider = ProviderWhisper
	cfg.Whisper.ModelSize = "gigantic"
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "whisper.model_size") {
		t.Fatalf("expected model size error, got %v", err)
	}
}
