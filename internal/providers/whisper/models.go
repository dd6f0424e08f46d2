package whisper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/language"
)

const defaultModelBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"

// Sizes published as ggml checkpoints. large-v3 has no English-only variant.
var englishOnlySizes = map[string]bool{
	"tiny":   true,
	"base":   true,
	"small":  true,
	"medium": true,
}

var knownSizes = map[string]bool{
	"tiny":     true,
	"base":     true,
	"small":    true,
	"medium":   true,
	"large-v3": true,
}

// ModelStore resolves and downloads ggml checkpoints under Dir.
type ModelStore struct {
	Dir     string
	BaseURL string
	Size    string
	Client  *http.Client
}

// NewModelStore fills unset fields with defaults. An unknown size falls back
// to base.
func NewModelStore(dir, baseURL, size string) *ModelStore {
	if strings.TrimSpace(dir) == "" {
		dir = defaultModelDir()
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultModelBaseURL
	}
	if !knownSizes[size] {
		size = "base"
	}
	return &ModelStore{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/"), Size: size, Client: http.DefaultClient}
}

func defaultModelDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "lecturescribe", "models")
	}
	return filepath.Join(os.TempDir(), "lecturescribe", "models")
}

// FileName picks the English-only checkpoint for English locales and the
// multilingual one otherwise.
func (m *ModelStore) FileName(locale string) string {
	if isEnglish(locale) && englishOnlySizes[m.Size] {
		return fmt.Sprintf("ggml-%s.en.bin", m.Size)
	}
	return fmt.Sprintf("ggml-%s.bin", m.Size)
}

// Path is where the model for locale lives once installed.
func (m *ModelStore) Path(locale string) string {
	return filepath.Join(m.Dir, m.FileName(locale))
}

// Installed reports whether the model for locale is on disk.
func (m *ModelStore) Installed(locale string) bool {
	info, err := os.Stat(m.Path(locale))
	return err == nil && !info.IsDir() && info.Size() > 0
}

// Download fetches the model for locale into a temporary file and renames it
// into place once complete. progress receives fractions in [0, 1] when the
// server reports a length.
func (m *ModelStore) Download(ctx context.Context, locale string, progress func(float64)) error {
	if m.Installed(locale) {
		if progress != nil {
			progress(1)
		}
		return nil
	}
	if err := os.MkdirAll(m.Dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}

	url := m.BaseURL + "/" + m.FileName(locale)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build model request: %w", err)
	}
	client := m.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download model: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download model: HTTP %d", resp.StatusCode)
	}

	dest := m.Path(locale)
	tmp := dest + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create model file: %w", err)
	}

	src := io.Reader(resp.Body)
	if progress != nil && resp.ContentLength > 0 {
		src = &progressReader{r: resp.Body, total: resp.ContentLength, report: progress}
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write model file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close model file: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("install model file: %w", err)
	}
	if progress != nil {
		progress(1)
	}
	return nil
}

type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	last   int64
	report func(float64)
}

// Reports at most once per 1% step.
func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if step := p.read * 100 / p.total; step > p.last && p.read < p.total {
		p.last = step
		p.report(float64(p.read) / float64(p.total))
	}
	return n, err
}

func isEnglish(locale string) bool {
	tag, err := language.Parse(strings.ReplaceAll(locale, "_", "-"))
	if err != nil {
		return false
	}
	base, _ := tag.Base()
	return base.String() == "en"
}

// languageCode maps a locale to whisper's two-letter language code.
func languageCode(locale string) string {
	tag, err := language.Parse(strings.ReplaceAll(locale, "_", "-"))
	if err != nil {
		return ""
	}
	base, _ := tag.Base()
	return base.String()
}
