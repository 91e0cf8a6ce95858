// Package export publishes JSON documents (the motherfile, show data) to a
// local directory or to the web host over FTP.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidName   = errors.New("invalid file name")
)

// DefaultName is used when a caller does not pick a file name.
const DefaultName = "fases.json"

// MissingConfigError names the unset configuration keys.
type MissingConfigError struct {
	Keys []string
}

func (e *MissingConfigError) Error() string {
	return fmt.Sprintf("missing configuration: %s", strings.Join(e.Keys, ", "))
}

func (e *MissingConfigError) Unwrap() error { return ErrMissingConfig }

// Target stores a named document and returns where it ended up.
type Target interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
}

// CleanName applies the default and rejects anything that is not a plain
// file name.
func CleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultName, nil
	}
	if name != path.Base(name) || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return name, nil
}

// FileTarget writes into a local directory.
type FileTarget struct {
	Dir string
}

func (f FileTarget) Put(_ context.Context, name string, data []byte) (string, error) {
	name, err := CleanName(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(f.Dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	dst := filepath.Join(f.Dir, name)
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return dst, nil
}
