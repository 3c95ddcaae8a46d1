package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"monitorai/internal/domain"
)

const FilePrefix = "MonitorAI_Relatorio"

// Filename builds names like MonitorAI_Relatorio_20261018_143005.pdf.
func Filename(prefix string, t time.Time, ext string) string {
	if prefix == "" {
		prefix = FilePrefix
	}
	ext = strings.TrimPrefix(ext, ".")
	return fmt.Sprintf("%s_%s.%s", prefix, t.Format("20060102_150405"), ext)
}

// ReportFilename names the report file of one evaluation. The source stem
// and the evaluation id keep concurrent reports created in the same second
// apart.
func ReportFilename(ev domain.Evaluation, loc *time.Location, ext string) string {
	prefix := FilePrefix
	if stem := strings.TrimSuffix(ev.Filename, filepath.Ext(ev.Filename)); stem != "" {
		prefix += "_" + stem
	}
	if ev.ID != "" {
		prefix += "_" + ev.ID
	}
	t := ev.CreatedAt
	if loc != nil {
		t = t.In(loc)
	}
	return Filename(prefix, t, ext)
}

// WriteFile stores data under dir using only the base of name, so a caller
// supplied name can never escape dir.
func WriteFile(dir, name string, data []byte) (string, error) {
	clean := sanitizeName(filepath.Base(name))
	if clean == "" || clean == "." {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	path := filepath.Join(dir, clean)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), ".")
}
