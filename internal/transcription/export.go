package transcription

import (
	"fmt"
	"os"

	"lecturescribe/internal/domain"
)

// DefaultExportFile is written in the working directory.
const DefaultExportFile = "transcript.txt"

// ExportText is the exported byte content: finalized text followed by any
// still pending volatile text.
func ExportText(t domain.Transcript) string {
	return t.FinalText() + t.VolatileText()
}

// Export writes the frozen transcript to path as UTF-8 text. It fails with
// domain.ErrNotFinalized while results can still be merged; repeated calls
// write identical bytes.
func (o *Orchestrator) Export(path string) error {
	t, err := o.FrozenTranscript()
	if err != nil {
		return err
	}
	if path == "" {
		path = DefaultExportFile
	}
	if err := os.WriteFile(path, []byte(ExportText(t)), 0o644); err != nil {
		return fmt.Errorf("write transcript %s: %w", path, err)
	}
	return nil
}
