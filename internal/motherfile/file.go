package motherfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pinkmilk/starzzz/internal/fase"
)

// ErrServerless is returned by FileStore writes on read-only deployments.
var ErrServerless = errors.New("file writes are disabled in serverless deployments")

// ServerlessNotice is shown to editors instead of an error.
const ServerlessNotice = "Running in a serverless deployment: the local motherfile is read-only. Use the hosted motherfile instead."

// FileStore keeps the motherfile as a JSON asset on local disk. It predates
// the hosted record and is only writable in development.
type FileStore struct {
	Path       string
	Serverless bool
}

// Read returns the stored headings. A missing file is an empty motherfile.
func (f *FileStore) Read() (fase.Headings, error) {
	b, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return fase.Headings{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.Path, err)
	}
	return fase.DecodeHeadings(b)
}

// Write replaces the file with h.
func (f *FileStore) Write(h fase.Headings) error {
	if f.Serverless {
		return ErrServerless
	}
	if err := h.Validate(); err != nil {
		return err
	}
	if h == nil {
		h = fase.Headings{}
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	b, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return os.Rename(tmp, f.Path)
}
