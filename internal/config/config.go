package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

const (
	ProviderDeepgram = "deepgram"
	ProviderWhisper  = "whisper"
)

var (
	validProviders   = []string{ProviderDeepgram, ProviderWhisper}
	validModelSizes  = []string{"tiny", "base", "small", "medium", "large-v3"}
	validLogLevels   = []string{"debug", "info", "warn", "error"}
	defaultRecording = filepath.Join(os.TempDir(), "lecturescribe")
)

// Config stores runtime configuration.
type Config struct {
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Deepgram   DeepgramConfig   `yaml:"deepgram"`
	Whisper    WhisperConfig    `yaml:"whisper"`
	Audio      AudioConfig      `yaml:"audio"`
	Playback   PlaybackConfig   `yaml:"playback"`
	Session    SessionConfig    `yaml:"session"`
	Log        LogConfig        `yaml:"log"`
}

type RecognizerConfig struct {
	Provider        string `yaml:"provider"`
	Locale          string `yaml:"locale"`
	VolatileResults bool   `yaml:"volatile_results"`
	Confidence      bool   `yaml:"confidence"`
}

type DeepgramConfig struct {
	APIKey      string `yaml:"api_key"`
	APIBaseURL  string `yaml:"api_base_url"`
	Model       string `yaml:"model"`
	SmartFormat bool   `yaml:"smart_format"`
}

type WhisperConfig struct {
	ModelDir         string        `yaml:"model_dir"`
	ModelBaseURL     string        `yaml:"model_base_url"`
	ModelSize        string        `yaml:"model_size"`
	VolatileInterval time.Duration `yaml:"volatile_interval"`
	MaxUtterance     time.Duration `yaml:"max_utterance"`
}

type AudioConfig struct {
	FFmpegCommand    string `yaml:"ffmpeg_command"`
	FFprobeCommand   string `yaml:"ffprobe_command"`
	InputFormat      string `yaml:"input_format"`
	InputDevice      string `yaml:"input_device"`
	SampleRate       int    `yaml:"sample_rate"`
	Channels         int    `yaml:"channels"`
	FramesPerBuffer  int    `yaml:"frames_per_buffer"`
	QueueDepth       int    `yaml:"queue_depth"`
	RecordingDir     string `yaml:"recording_dir"`
	MaxConvertFrames int    `yaml:"max_convert_frames"`
}

type PlaybackConfig struct {
	PlayerCommand    string        `yaml:"player_command"`
	PositionInterval time.Duration `yaml:"position_interval"`
}

type SessionConfig struct {
	FinalizeTimeout  time.Duration `yaml:"finalize_timeout"`
	ExportPath       string        `yaml:"export_path"`
	FileChunkSeconds int           `yaml:"file_chunk_seconds"`
	CopyToClipboard  bool          `yaml:"copy_to_clipboard"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		Recognizer: RecognizerConfig{
			Provider:        ProviderDeepgram,
			Locale:          "en-US",
			VolatileResults: true,
			Confidence:      true,
		},
		Deepgram: DeepgramConfig{
			APIBaseURL:  "https://api.deepgram.com/v1",
			Model:       "nova-2",
			SmartFormat: true,
		},
		Whisper: WhisperConfig{
			ModelBaseURL:     "https://huggingface.co/ggerganov/whisper.cpp/resolve/main",
			ModelSize:        "base",
			VolatileInterval: 3 * time.Second,
			MaxUtterance:     15 * time.Second,
		},
		Audio: AudioConfig{
			FFmpegCommand:   "ffmpeg",
			FFprobeCommand:  "ffprobe",
			InputFormat:     "pulse",
			InputDevice:     "default",
			SampleRate:      48000,
			Channels:        1,
			FramesPerBuffer: 4096,
			QueueDepth:      64,
			RecordingDir:    defaultRecording,
		},
		Playback: PlaybackConfig{
			PlayerCommand:    "ffplay",
			PositionInterval: 50 * time.Millisecond,
		},
		Session: SessionConfig{
			FinalizeTimeout:  30 * time.Second,
			ExportPath:       "transcript.txt",
			FileChunkSeconds: 30,
			CopyToClipboard:  true,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load resolves configuration from defaults, an optional YAML file
// (LECTURESCRIBE_CONFIG or ~/.config/lecturescribe/config.yaml) and
// environment variables, in that order.
func Load() (Config, error) {
	cfg := Defaults()

	path := strings.TrimSpace(os.Getenv("LECTURESCRIBE_CONFIG"))
	explicit := path != ""
	if !explicit {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, ".config", "lecturescribe", "config.yaml")
		}
	}
	if path != "" {
		f, err := os.Open(path)
		switch {
		case err == nil:
			err = decodeInto(f, &cfg)
			f.Close()
			if err != nil {
				return Config{}, fmt.Errorf("config: parse %q: %w", path, err)
			}
		case explicit || !errors.Is(err, os.ErrNotExist):
			return Config{}, fmt.Errorf("config: open %q: %w", path, err)
		}
	}

	applyEnv(&cfg)
	clamp(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFromReader decodes YAML over the defaults without consulting the
// environment.
func LoadFromReader(r io.Reader) (Config, error) {
	cfg := Defaults()
	if err := decodeInto(r, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	clamp(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeInto(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

// Validate returns a joined error listing every invalid value.
func Validate(cfg Config) error {
	var errs []error

	if !slices.Contains(validProviders, cfg.Recognizer.Provider) {
		errs = append(errs, fmt.Errorf("recognizer.provider %q is invalid; valid values: %s", cfg.Recognizer.Provider, strings.Join(validProviders, ", ")))
	}
	if _, err := language.Parse(strings.ReplaceAll(cfg.Recognizer.Locale, "_", "-")); err != nil {
		errs = append(errs, fmt.Errorf("recognizer.locale %q is not a BCP-47 tag: %w", cfg.Recognizer.Locale, err))
	}
	if cfg.Recognizer.Provider == ProviderWhisper && !slices.Contains(validModelSizes, cfg.Whisper.ModelSize) {
		errs = append(errs, fmt.Errorf("whisper.model_size %q is invalid; valid values: %s", cfg.Whisper.ModelSize, strings.Join(validModelSizes, ", ")))
	}
	if cfg.Whisper.VolatileInterval > cfg.Whisper.MaxUtterance {
		errs = append(errs, fmt.Errorf("whisper.volatile_interval %s exceeds whisper.max_utterance %s", cfg.Whisper.VolatileInterval, cfg.Whisper.MaxUtterance))
	}
	if !slices.Contains(validLogLevels, strings.ToLower(cfg.Log.Level)) {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: %s", cfg.Log.Level, strings.Join(validLogLevels, ", ")))
	}
	if strings.TrimSpace(cfg.Session.ExportPath) == "" {
		errs = append(errs, errors.New("session.export_path is required"))
	}

	return errors.Join(errs...)
}

func applyEnv(cfg *Config) {
	cfg.Recognizer.Provider = envOrDefault("LECTURESCRIBE_PROVIDER", cfg.Recognizer.Provider)
	cfg.Recognizer.Locale = envOrDefault("LECTURESCRIBE_LOCALE", cfg.Recognizer.Locale)

	cfg.Deepgram.APIKey = envOrDefault("DEEPGRAM_API_KEY", cfg.Deepgram.APIKey)
	cfg.Deepgram.APIBaseURL = envOrDefault("DEEPGRAM_API_BASE", cfg.Deepgram.APIBaseURL)
	cfg.Deepgram.Model = envOrDefault("DEEPGRAM_MODEL", cfg.Deepgram.Model)
	cfg.Deepgram.SmartFormat = envOrDefaultBool("DEEPGRAM_SMART_FORMAT", cfg.Deepgram.SmartFormat)

	cfg.Whisper.ModelDir = envOrDefault("LECTURESCRIBE_WHISPER_MODEL_DIR", cfg.Whisper.ModelDir)
	cfg.Whisper.ModelSize = envOrDefault("LECTURESCRIBE_WHISPER_MODEL_SIZE", cfg.Whisper.ModelSize)

	cfg.Audio.FFmpegCommand = envOrDefault("LECTURESCRIBE_FFMPEG_COMMAND", cfg.Audio.FFmpegCommand)
	cfg.Audio.InputFormat = envOrDefault("LECTURESCRIBE_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)
	cfg.Audio.InputDevice = firstNonEmpty(
		os.Getenv("LECTURESCRIBE_AUDIO_INPUT_DEVICE"),
		os.Getenv("PULSE_SOURCE"),
		cfg.Audio.InputDevice,
	)
	cfg.Audio.SampleRate = envOrDefaultInt("LECTURESCRIBE_SAMPLE_RATE", cfg.Audio.SampleRate)
	cfg.Audio.Channels = envOrDefaultInt("LECTURESCRIBE_CHANNELS", cfg.Audio.Channels)
	cfg.Audio.FramesPerBuffer = envOrDefaultInt("LECTURESCRIBE_FRAMES_PER_BUFFER", cfg.Audio.FramesPerBuffer)
	cfg.Audio.RecordingDir = envOrDefault("LECTURESCRIBE_RECORDING_DIR", cfg.Audio.RecordingDir)

	cfg.Playback.PlayerCommand = envOrDefault("LECTURESCRIBE_PLAYER_COMMAND", cfg.Playback.PlayerCommand)

	cfg.Session.ExportPath = envOrDefault("LECTURESCRIBE_EXPORT_PATH", cfg.Session.ExportPath)
	cfg.Session.CopyToClipboard = envOrDefaultBool("LECTURESCRIBE_COPY_TO_CLIPBOARD", cfg.Session.CopyToClipboard)

	cfg.Log.Level = envOrDefault("LECTURESCRIBE_LOG_LEVEL", cfg.Log.Level)
}

// clamp replaces out-of-range numbers with defaults.
func clamp(cfg *Config) {
	def := Defaults()
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = def.Audio.SampleRate
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = def.Audio.Channels
	}
	if cfg.Audio.FramesPerBuffer < 256 {
		cfg.Audio.FramesPerBuffer = def.Audio.FramesPerBuffer
	}
	if cfg.Audio.QueueDepth <= 0 {
		cfg.Audio.QueueDepth = def.Audio.QueueDepth
	}
	if cfg.Audio.MaxConvertFrames < 0 {
		cfg.Audio.MaxConvertFrames = 0
	}
	if cfg.Whisper.VolatileInterval <= 0 {
		cfg.Whisper.VolatileInterval = def.Whisper.VolatileInterval
	}
	if cfg.Whisper.MaxUtterance <= 0 {
		cfg.Whisper.MaxUtterance = def.Whisper.MaxUtterance
	}
	if cfg.Playback.PositionInterval <= 0 {
		cfg.Playback.PositionInterval = def.Playback.PositionInterval
	}
	if cfg.Session.FinalizeTimeout <= 0 {
		cfg.Session.FinalizeTimeout = def.Session.FinalizeTimeout
	}
	if cfg.Session.FileChunkSeconds <= 0 {
		cfg.Session.FileChunkSeconds = def.Session.FileChunkSeconds
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
