package tables

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// Level is the severity of a user-facing ingestion message.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Message is a user-facing report produced while syncing or loading files.
type Message struct {
	Level Level
	Text  string
}

// Sync copies every CSV from source into destDir, overwriting files with the same name.
// The source may be a directory or a .zip archive. Failures are reported as messages
// rather than errors so the caller can keep prompting for more files.
func Sync(source, destDir string) []Message {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return []Message{{LevelError, fmt.Sprintf("Não foi possível criar '%s': %v", destDir, err)}}
	}

	info, err := os.Stat(source)
	switch {
	case err == nil && !info.IsDir() && strings.HasSuffix(strings.ToLower(source), ".zip"):
		return syncZip(source, destDir)
	case err == nil && info.IsDir():
		return syncDir(source, destDir)
	default:
		return []Message{{LevelError, fmt.Sprintf("'%s' não é um .zip nem um diretório válido.", source)}}
	}
}

func syncZip(source, destDir string) []Message {
	r, err := zip.OpenReader(source)
	if err != nil {
		return []Message{{LevelError, fmt.Sprintf("Falha ao extrair ZIP '%s': %v", source, err)}}
	}
	defer r.Close()

	count := 0
	for _, f := range r.File {
		if f.FileInfo().IsDir() || !isCSV(f.Name) {
			continue
		}
		if err := extractFile(f, destDir); err != nil {
			return []Message{{LevelError, fmt.Sprintf("Falha ao extrair ZIP '%s': %v", source, err)}}
		}
		count++
	}

	if count == 0 {
		return []Message{{LevelWarning, fmt.Sprintf("Nenhum CSV encontrado dentro de '%s'.", source)}}
	}
	return []Message{{LevelSuccess, fmt.Sprintf("%d arquivo(s) CSV extraído(s) de '%s'.", count, source)}}
}

// extractFile writes a zip member into destDir, refusing paths that escape it.
func extractFile(f *zip.File, destDir string) error {
	target := filepath.Join(destDir, filepath.FromSlash(f.Name))
	rel, err := filepath.Rel(destDir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("illegal path in archive: %s", f.Name)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", f.Name, err)
	}

	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer src.Close()

	return writeFile(target, src)
}

func syncDir(source, destDir string) []Message {
	entries, err := os.ReadDir(source)
	if err != nil {
		return []Message{{LevelError, fmt.Sprintf("Não foi possível ler '%s': %v", source, err)}}
	}

	copied := 0
	for _, entry := range entries {
		if entry.IsDir() || !isCSV(entry.Name()) {
			continue
		}
		if err := copyFile(filepath.Join(source, entry.Name()), filepath.Join(destDir, entry.Name())); err != nil {
			return []Message{{LevelError, fmt.Sprintf("Falha ao copiar '%s': %v", entry.Name(), err)}}
		}
		copied++
	}

	if copied == 0 {
		return []Message{{LevelWarning, fmt.Sprintf("Nenhum CSV encontrado em '%s'.", source)}}
	}
	return []Message{{LevelSuccess, fmt.Sprintf("%d arquivo(s) CSV copiado(s) de '%s'.", copied, source)}}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // G304: path comes from a directory listing chosen by the user
	if err != nil {
		return err
	}
	defer in.Close()
	return writeFile(dst, in)
}

func writeFile(dst string, r io.Reader) error {
	out, err := os.Create(dst) //nolint:gosec // G304: dst is joined under the destination directory
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// ListCSV returns the CSV file names present in dir, or nil if it does not exist.
func ListCSV(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && isCSV(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

func isCSV(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".csv")
}
